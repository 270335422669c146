package mailbox

import (
	"fmt"
	"io"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

func init() {
	message.CharsetReader = charsetReader
	imap.CharsetReader = charsetReader
}

// charsetReader decodes any charset known to the WHATWG encoding index
// (windows-1252, iso-8859-*, shift_jis, ...) to UTF-8.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unhandled charset %q: %w", charset, err)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}
