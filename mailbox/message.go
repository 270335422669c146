package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"dmr/config"

	"github.com/emersion/go-message"
)

// ReportMarker identifies a Daily Management Report by subject or body.
const ReportMarker = "Daily Management Report"

// IsDailyReport checks the subject first and only then the body.
func IsDailyReport(subject, html string) bool {
	if strings.Contains(subject, ReportMarker) {
		return true
	}
	return html != "" && strings.Contains(html, ReportMarker)
}

// ExtractHTML returns the first text/html part of a raw message, decoded from
// its transfer encoding and declared charset. Unknown charsets fall back to
// UTF-8 with invalid bytes replaced. ok is false when no HTML part exists.
func ExtractHTML(raw []byte) (html string, ok bool, err error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !recoverable(err) {
		return "", false, fmt.Errorf("failed to parse message: %w", err)
	}
	return firstHTMLPart(entity)
}

func firstHTMLPart(e *message.Entity) (string, bool, error) {
	if mr := e.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return "", false, nil
			}
			if err != nil && !recoverable(err) {
				return "", false, fmt.Errorf("failed to read message part: %w", err)
			}
			html, ok, err := firstHTMLPart(part)
			if err != nil || ok {
				return html, ok, err
			}
		}
	}

	mediaType, _, _ := e.Header.ContentType()
	if mediaType != "text/html" {
		return "", false, nil
	}
	body, err := io.ReadAll(e.Body)
	if err != nil {
		// a broken part does not end the search; later parts may still be usable
		config.GetLogger().WithError(err).Warn("could not decode html part")
		return "", false, nil
	}
	return strings.ToValidUTF8(string(body), "\uFFFD"), true, nil
}

func recoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
