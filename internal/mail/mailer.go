// Package mail is the outbound email boundary. Delivery is an external
// collaborator; the access core only hands it fully built messages.
package mail

import "context"

// Message is one outbound email.
type Message struct {
	To       []string
	Subject  string
	HTMLBody string
}

// Mailer dispatches messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Discard is a Mailer that drops messages; used in tests and when no SMTP
// transport is configured.
type Discard struct{}

func (Discard) Send(context.Context, Message) error { return nil }
