// pkg/email/email.go
package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	mailjet "github.com/mailjet/mailjet-apiv3-go"
)

// Message is a templated email. Template content lives at the provider; only the
// template id and its variables travel with the message.
type Message struct {
	To         string
	ToName     string
	Subject    string
	TemplateID int64
	Variables  map[string]interface{}
}

var ErrNoTemplate = errors.New("template id is required")

func (m Message) validate() error {
	if m.To == "" {
		return errors.New("recipient is required")
	}
	return nil
}

// Dispatcher sends a single message.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// MailjetDispatcher sends template emails through the Mailjet v3.1 send API.
type MailjetDispatcher struct {
	client     *mailjet.Client
	sender     string
	senderName string
}

func NewMailjetDispatcher(publicKey, privateKey, sender, senderName string) (*MailjetDispatcher, error) {
	if publicKey == "" || privateKey == "" {
		return nil, errors.New("mailjet public and private keys are required")
	}
	return &MailjetDispatcher{
		client:     mailjet.NewMailjetClient(publicKey, privateKey),
		sender:     sender,
		senderName: senderName,
	}, nil
}

func (d *MailjetDispatcher) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	if msg.TemplateID == 0 {
		return ErrNoTemplate
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	info := []mailjet.InfoMessagesV31{{
		From:             &mailjet.RecipientV31{Email: d.sender, Name: d.senderName},
		To:               &mailjet.RecipientsV31{mailjet.RecipientV31{Email: msg.To, Name: msg.ToName}},
		Subject:          msg.Subject,
		TemplateID:       msg.TemplateID,
		TemplateLanguage: true,
		Variables:        msg.Variables,
	}}

	if _, err := d.client.SendMailV31(&mailjet.MessagesV31{Info: info}); err != nil {
		return fmt.Errorf("could not send mail: %w", err)
	}
	log.Infof("Sent template %d to %s", msg.TemplateID, msg.To)
	return nil
}

// LogDispatcher only logs messages. Used when no provider keys are configured,
// so messages without a template id are accepted.
type LogDispatcher struct{}

func (LogDispatcher) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	log.Infof("[mail disabled] template=%d to=%s subject=%q", msg.TemplateID, msg.To, msg.Subject)
	return nil
}
