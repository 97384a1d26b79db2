// Package mail renders and delivers outbound email.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Message is one outbound email with text and HTML alternatives.
type Message struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html,omitempty"`
	// Tag labels the message in logs, e.g. "invitation".
	Tag string `json:"tag,omitempty"`
}

func (m Message) Validate() error {
	if len(m.To) == 0 {
		return fmt.Errorf("mail: no recipients")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("mail: empty subject")
	}
	return nil
}

// Bytes renders m as an RFC 5322 message from the given sender.
func (m Message) Bytes(from string, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())

	parts := []struct{ typ, body string }{{"text/plain", m.Text}}
	if m.HTML != "" {
		parts = append(parts, struct{ typ, body string }{"text/html", m.HTML})
	}
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", p.typ+"; charset=utf-8")
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(p.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Queue accepts messages for asynchronous delivery.
type Queue interface {
	Enqueue(ctx context.Context, m Message) error
	Close() error
}

// LogSender records messages in the log instead of delivering them. It
// backs local runs without an SMTP relay.
type LogSender struct {
	Logger *zap.SugaredLogger
}

func (s LogSender) Send(_ context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return Permanent(err)
	}
	if s.Logger != nil {
		s.Logger.Infow("email not delivered, smtp disabled", "tag", m.Tag, "to", m.To, "subject", m.Subject)
	}
	return nil
}
