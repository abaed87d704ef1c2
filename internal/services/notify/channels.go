package notify

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghibliflow/internal/interfaces"
	"github.com/ternarybob/ghibliflow/internal/models"
)

// Channel is one notification destination
type Channel interface {
	Name() string
	// Enabled reports whether the channel applies to job; a disabled channel is skipped silently
	Enabled(job *models.Job) bool
	Deliver(ctx context.Context, job *models.Job, outcome models.Outcome) error
}

// Announcer is a Channel that also reports job starts
type Announcer interface {
	Announce(ctx context.Context, job *models.Job, backlog int) error
}

// TelegramChannel posts results to the configured chat
type TelegramChannel struct {
	client interfaces.PushClient
	logger arbor.ILogger
}

// NewTelegramChannel creates the push channel
func NewTelegramChannel(client interfaces.PushClient, logger arbor.ILogger) *TelegramChannel {
	return &TelegramChannel{client: client, logger: logger}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Enabled(job *models.Job) bool {
	return c.client != nil && c.client.IsConfigured()
}

// Deliver sends the result as a photo when there is a preview URL. If the
// photo is rejected (blob URLs cannot be fetched by Telegram) the caption goes out as text.
func (c *TelegramChannel) Deliver(ctx context.Context, job *models.Job, outcome models.Outcome) error {
	text, photoURL := telegramResult(job, outcome)
	if photoURL == "" {
		return c.client.SendText(ctx, text)
	}

	err := c.client.SendPhoto(ctx, photoURL, text)
	if err == nil {
		return nil
	}

	c.logger.Warn().
		Err(err).
		Str("photo_url", photoURL).
		Msg("Telegram photo rejected, sending text instead")
	return c.client.SendText(ctx, text)
}

func (c *TelegramChannel) Announce(ctx context.Context, job *models.Job, backlog int) error {
	return c.client.SendText(ctx, telegramStarted(job, backlog))
}

// EmailChannel mails results to the address given with the job
type EmailChannel struct {
	client interfaces.MailClient
	logger arbor.ILogger
}

// NewEmailChannel creates the email channel
func NewEmailChannel(client interfaces.MailClient, logger arbor.ILogger) *EmailChannel {
	return &EmailChannel{client: client, logger: logger}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Enabled(job *models.Job) bool {
	if job.NotifyEmail == "" {
		return false
	}
	if c.client == nil || !c.client.IsConfigured() {
		c.logger.Debug().
			Str("to", job.NotifyEmail).
			Msg("Email requested but SMTP is not configured")
		return false
	}
	return true
}

func (c *EmailChannel) Deliver(ctx context.Context, job *models.Job, outcome models.Outcome) error {
	return c.client.SendHTML(ctx, job.NotifyEmail, emailSubject(job, outcome), emailHTML(job, outcome))
}
