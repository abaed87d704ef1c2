package interfaces

import "context"

// PushClient is the push-style notification channel client
type PushClient interface {
	IsConfigured() bool
	SendText(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, photoURL, caption string) error
}

// MailClient is the email notification channel client
type MailClient interface {
	IsConfigured() bool
	SendHTML(ctx context.Context, to, subject, htmlBody string) error
}
