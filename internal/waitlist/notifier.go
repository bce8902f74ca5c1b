package waitlist

import (
	"context"
	"fmt"
	"html"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Notifier sends the welcome message for a new entry.
type Notifier interface {
	Welcome(ctx context.Context, e Entry) error
}

// NopNotifier sends nothing.
type NopNotifier struct{}

func (NopNotifier) Welcome(context.Context, Entry) error { return nil }

// mailSender is satisfied by *sendgrid.Client.
type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridNotifier emails new signups through SendGrid.
type SendGridNotifier struct {
	client   mailSender
	from     *mail.Email
	appName  string
	loginURL string
}

// NewSendGridNotifier creates a notifier sending from fromAddr.
func NewSendGridNotifier(apiKey, fromAddr, appURL string) *SendGridNotifier {
	return newSendGridNotifier(sendgrid.NewSendClient(apiKey), fromAddr, appURL)
}

func newSendGridNotifier(client mailSender, fromAddr, appURL string) *SendGridNotifier {
	return &SendGridNotifier{
		client:   client,
		from:     mail.NewEmail("CoachGate", fromAddr),
		appName:  "CoachGate",
		loginURL: appURL,
	}
}

func (n *SendGridNotifier) Welcome(ctx context.Context, e Entry) error {
	name := e.Name
	if name == "" {
		name = "there"
	}
	subject := fmt.Sprintf("You're on the %s waitlist", n.appName)
	text := fmt.Sprintf("Hi %s,\n\nThanks for joining the %s waitlist. We'll email you as soon as your spot opens up.\n\n%s\n",
		name, n.appName, n.loginURL)

	body := fmt.Sprintf("<p>Hi %s,</p><p>Thanks for joining the %s waitlist. We'll email you as soon as your spot opens up.</p><p><a href=%q>%s</a></p>",
		html.EscapeString(name), n.appName, n.loginURL, n.appName)

	msg := mail.NewSingleEmail(n.from, subject, mail.NewEmail(e.Name, e.Email), text, body)
	resp, err := n.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("send welcome email: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send welcome email: sendgrid status %d", resp.StatusCode)
	}
	return nil
}
