package bounce

import (
	"bufio"
	"bytes"
	"mime"
	"net/mail"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"

	"github.com/jhillyerd/enmime"
)

// cidPattern matches the correlation token campaigns embed in outgoing
// subjects, e.g. "[CID:123] Welcome". Best-effort by nature: a relay
// that rewrites the subject breaks attribution, which is why the id is
// also carried in an X-Campaign-ID header on the way out.
var cidPattern = regexp.MustCompile(`\[CID:(\d+)\]`)

// emailPattern is the fallback matcher used when a bounce carries no
// structured delivery-status part.
var emailPattern = regexp.MustCompile(`[\w.\-]+@[\w.\-]+\.\w+`)

// ExtractCampaignID pulls the campaign id out of a subject line.
func ExtractCampaignID(subject string) (int64, bool) {
	m := cidPattern.FindStringSubmatch(subject)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// OriginalSubject recovers the subject of the message that bounced.
// Bounces commonly attach the original as a message/rfc822 part; when
// they do, its Subject wins. Otherwise the bounce's own subject is the
// best guess, since many bounce formats keep it verbatim.
func OriginalSubject(env *enmime.Envelope) string {
	part := env.Root.DepthMatchFirst(func(p *enmime.Part) bool {
		return p.ContentType == "message/rfc822"
	})
	if part != nil && len(part.Content) > 0 {
		if msg, err := mail.ReadMessage(bytes.NewReader(part.Content)); err == nil {
			raw := msg.Header.Get("Subject")
			if raw != "" {
				dec := new(mime.WordDecoder)
				if subject, err := dec.DecodeHeader(raw); err == nil {
					return subject
				}
				return raw
			}
		}
	}
	return env.GetHeader("Subject")
}

// FinalRecipient extracts the address that bounced. The structured
// message/delivery-status part is authoritative when present: its
// Final-Recipient field has the form "<addr-type>;<email>" and only the
// substring after the last separator is the address. Failing that, the
// plain-text body is scanned for the first email-shaped token that is
// not the system's own sending address.
func FinalRecipient(env *enmime.Envelope, selfAddr string) string {
	part := env.Root.DepthMatchFirst(func(p *enmime.Part) bool {
		return p.ContentType == "message/delivery-status"
	})
	if part != nil {
		if addr := finalRecipientFromDSN(part.Content); addr != "" {
			return addr
		}
	}

	self := strings.ToLower(selfAddr)
	for _, addr := range emailPattern.FindAllString(env.Text, -1) {
		if strings.ToLower(addr) != self {
			return addr
		}
	}
	return ""
}

// finalRecipientFromDSN reads the delivery-status payload, which is a
// sequence of RFC 822 style field blocks separated by blank lines: one
// per-message block followed by one block per recipient.
func finalRecipientFromDSN(content []byte) string {
	tr := textproto.NewReader(bufio.NewReader(bytes.NewReader(content)))
	for {
		h, err := tr.ReadMIMEHeader()
		if fr := h.Get("Final-Recipient"); fr != "" && strings.Contains(fr, "@") {
			pieces := strings.Split(fr, ";")
			return strings.TrimSpace(pieces[len(pieces)-1])
		}
		if err != nil {
			return ""
		}
	}
}
