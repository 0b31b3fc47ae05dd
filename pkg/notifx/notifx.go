// Package notifx delivers one-time codes and withdrawal PINs by email.
package notifx

import (
	"context"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender hands a message to an email provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// RecipientResolver finds the email address of a code subject.
type RecipientResolver interface {
	EmailForSubject(ctx context.Context, subjectID string) (string, error)
}

// RecipientFunc adapts a function to RecipientResolver.
type RecipientFunc func(ctx context.Context, subjectID string) (string, error)

func (f RecipientFunc) EmailForSubject(ctx context.Context, subjectID string) (string, error) {
	return f(ctx, subjectID)
}
