package bounce

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"github.com/lorantk/campaigner/internal/config"
)

// Heuristic bounce filters, matched server-side. Neither is a guaranteed
// protocol; together they catch the common mailer formats.
const (
	bounceSenderPattern  = "mailer-daemon"
	bounceSubjectPattern = "Mail Delivery Subsystem"
)

// IMAPMailbox implements Mailbox over a logged-in IMAP session with the
// configured mailbox selected.
type IMAPMailbox struct {
	c *imapclient.Client
}

// DialIMAP connects, authenticates and selects the bounce mailbox.
func DialIMAP(ctx context.Context, cfg config.IMAPConfig) (*IMAPMailbox, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	c, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(cfg.Mailbox, false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("select mailbox %q: %w", cfg.Mailbox, err)
	}

	return &IMAPMailbox{c: c}, nil
}

// Search returns unread messages that look like delivery-failure
// notifications: sender matching the mailer-daemon pattern OR subject
// matching the delivery-subsystem pattern.
func (m *IMAPMailbox) Search(ctx context.Context) ([]uint32, error) {
	fromCrit := imap.NewSearchCriteria()
	fromCrit.Header.Add("From", bounceSenderPattern)

	subjCrit := imap.NewSearchCriteria()
	subjCrit.Header.Add("Subject", bounceSubjectPattern)

	criteria := imap.NewSearchCriteria()
	criteria.Or = [][2]*imap.SearchCriteria{{fromCrit, subjCrit}}
	criteria.WithoutFlags = []string{imap.SeenFlag}

	return m.c.Search(criteria)
}

func (m *IMAPMailbox) Fetch(ctx context.Context, id uint32) (io.Reader, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(id)

	section := &imap.BodySectionName{}
	ch := make(chan *imap.Message, 1)
	if err := m.c.Fetch(seqset, []imap.FetchItem{section.FetchItem()}, ch); err != nil {
		return nil, fmt.Errorf("fetch message %d: %w", id, err)
	}

	msg := <-ch
	if msg == nil {
		return nil, fmt.Errorf("no data for message %d", id)
	}
	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("no body for message %d", id)
	}
	return body, nil
}

func (m *IMAPMailbox) MarkSeen(ctx context.Context, id uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(id)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return m.c.Store(seqset, item, []interface{}{imap.SeenFlag}, nil)
}

func (m *IMAPMailbox) Close() error {
	return m.c.Logout()
}
