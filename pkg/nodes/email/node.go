// Package email provides the email-send node and its SMTP mailer.
package email

import (
	"context"
	"strings"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/nodes"
	"github.com/dukex/leadflow/pkg/protocol"
)

type Node struct {
	mailer Mailer
}

func New(mailer Mailer) *Node {
	return &Node{mailer: mailer}
}

func (n *Node) Handle(ctx context.Context, req protocol.Request) (map[string]any, error) {
	config, err := nodes.Config[*models.EmailSendConfig](req)
	if err != nil {
		return nil, err
	}

	rendered, err := nodes.RenderMap(req, map[string]string{
		"to":      config.To,
		"subject": config.Subject,
		"body":    config.Body,
	})
	if err != nil {
		return nil, err
	}

	to := recipients(rendered["to"])
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}

	err = n.mailer.Send(ctx, Message{To: to, Subject: rendered["subject"], Body: rendered["body"]})
	if err != nil {
		return nil, err
	}

	sent := make([]any, len(to))
	for i, address := range to {
		sent[i] = address
	}

	return map[string]any{"sent": true, "to": sent, "subject": rendered["subject"]}, nil
}

func recipients(value string) []string {
	var to []string

	for _, address := range strings.Split(value, ",") {
		if address = strings.TrimSpace(address); address != "" {
			to = append(to, address)
		}
	}

	return to
}
