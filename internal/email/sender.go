package email

import (
	"context"

	"github.com/ecortescl/ms-smtp/internal/model"
)

// Sender hands a message to a mail relay.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*model.SendResult, error)
}

// Message is one outgoing email. From must be resolved before Send.
type Message struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	ReplyTo     string
	Subject     string
	HTML        string
	Text        string
	Attachments []model.Attachment
}

// Recipients returns every envelope recipient.
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	return append(out, m.Bcc...)
}

func addresses(a *model.AddressList) []string {
	if a.IsEmpty() {
		return nil
	}
	out := make([]string, 0, len(a.Addresses))
	for _, addr := range a.Addresses {
		if addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// NewMessage builds a message from recipient fields that may be single
// addresses or lists.
func NewMessage(from string, to, cc, bcc *model.AddressList) *Message {
	return &Message{
		From: from,
		To:   addresses(to),
		Cc:   addresses(cc),
		Bcc:  addresses(bcc),
	}
}
