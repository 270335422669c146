package mailbox

import (
	"errors"
	"fmt"
	"io"
	"time"

	"dmr/config"
	"dmr/model"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

var ErrNoDate = errors.New("message has no usable date")

// Default folders. Backfill prefers the archive so that filed reports are
// found as well.
var (
	InboxFolders   = []string{"INBOX"}
	ArchiveFolders = []string{"[Gmail]/All Mail", "INBOX"}
)

// Criteria selects report messages. Before is exclusive and optional.
type Criteria struct {
	From    string
	Subject string
	Since   time.Time
	Before  time.Time
}

// Client is one logged-in IMAP session with a folder selected read-only.
type Client struct {
	c      *client.Client
	site   string
	folder string
}

// Dial connects over TLS, logs in with the site's app password and selects
// the first folder in folders that exists.
func Dial(site config.Site, folders []string) (*Client, error) {
	if err := site.RequireMailbox(); err != nil {
		return nil, err
	}
	log := config.GetLogger().WithField("site", site.Name)

	log.Infof("Connecting to %s...", site.IMAPAddr)
	c, err := client.DialTLS(site.IMAPAddr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", site.IMAPAddr, err)
	}

	log.Infof("Logging in as %s...", site.Username)
	if err := c.Login(site.Username, site.AppPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("login failed for %s: %w", site.Username, err)
	}

	if len(folders) == 0 {
		folders = InboxFolders
	}
	var selectErr error
	for _, folder := range folders {
		if _, selectErr = c.Select(folder, true); selectErr == nil {
			log.Infof("Selected folder %s", folder)
			return &Client{c: c, site: site.Name, folder: folder}, nil
		}
		log.WithError(selectErr).Warnf("could not select folder %s", folder)
	}
	c.Logout()
	return nil, fmt.Errorf("no usable folder among %v: %w", folders, selectErr)
}

func (m *Client) Search(criteria Criteria) ([]uint32, error) {
	sc := imap.NewSearchCriteria()
	if criteria.From != "" {
		sc.Header.Add("From", criteria.From)
	}
	if criteria.Subject != "" {
		sc.Header.Add("Subject", criteria.Subject)
	}
	sc.Since = criteria.Since
	sc.Before = criteria.Before

	uids, err := m.c.UidSearch(sc)
	if err != nil {
		return nil, fmt.Errorf("search in %s failed: %w", m.folder, err)
	}
	config.GetLogger().WithFields(logrus.Fields{
		"site":   m.site,
		"folder": m.folder,
		"since":  criteria.Since.Format("02-Jan-2006"),
	}).Infof("Found %d messages", len(uids))
	return uids, nil
}

// Fetch downloads one message without marking it seen. The business date
// comes from the Date header; INTERNALDATE is used only when
// allowInternalDate is set.
func (m *Client) Fetch(uid uint32, allowInternalDate bool) (model.MailMessage, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- m.c.UidFetch(seqset, items, messages)
	}()

	var msg *imap.Message
	for fetched := range messages {
		msg = fetched
	}
	if err := <-done; err != nil {
		return model.MailMessage{}, fmt.Errorf("fetch uid %d failed: %w", uid, err)
	}
	if msg == nil {
		return model.MailMessage{}, fmt.Errorf("uid %d not returned by server", uid)
	}

	result := model.MailMessage{UID: uid}
	if msg.Envelope != nil {
		result.Subject = msg.Envelope.Subject
		result.Date = msg.Envelope.Date
	}
	if result.Date.IsZero() && allowInternalDate {
		result.Date = msg.InternalDate
	}
	if result.Date.IsZero() {
		return model.MailMessage{}, fmt.Errorf("uid %d: %w", uid, ErrNoDate)
	}

	body := msg.GetBody(section)
	if body == nil {
		return model.MailMessage{}, fmt.Errorf("uid %d: server returned no body", uid)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return model.MailMessage{}, fmt.Errorf("uid %d: failed to read body: %w", uid, err)
	}
	result.Body = raw
	return result, nil
}

func (m *Client) Close() error {
	return m.c.Logout()
}
