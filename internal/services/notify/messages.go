package notify

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/ternarybob/ghibliflow/internal/models"
	"github.com/ternarybob/ghibliflow/internal/services/telegram"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

const studioName = "GhibliFlow Studio"

// markdown renders email bodies. Raw HTML in user text is dropped by the renderer.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(
		gmhtml.WithHardWraps(),
		gmhtml.WithXHTML(),
	),
)

// telegramResult formats the push message for an outcome. photoURL is empty
// when the message should go out as plain text.
func telegramResult(job *models.Job, outcome models.Outcome) (text, photoURL string) {
	name := telegram.Escape(job.DisplayName)
	promptLine := "\n(image only)"
	if outcome.Prompt != "" {
		promptLine = "\n📟 Prompt: " + telegram.Escape(outcome.Prompt)
	}

	switch outcome.Kind {
	case models.OutcomeSuccess:
		return fmt.Sprintf("✅ [%s](%s)\n%s", name, outcome.ArtifactURL, promptLine), outcome.ArtifactURL

	case models.OutcomeNotFound:
		title := name
		if outcome.BestGuessURL != "" {
			title = fmt.Sprintf("[%s](%s)", name, outcome.BestGuessURL)
		}
		reason := telegram.Escape(outcome.Diagnostic)
		return fmt.Sprintf("❌ %s\n\n🙅 Reason: %s\n%s", title, reason, promptLine), outcome.BestGuessURL
	}

	return fmt.Sprintf("❌ %s\n\nError: %s\n%s", name, telegram.Escape(outcome.Message), promptLine), ""
}

// telegramStarted formats the job-start announcement
func telegramStarted(job *models.Job, backlog int) string {
	var b strings.Builder
	b.WriteString("⏳ Processing ")
	b.WriteString(telegram.Escape(job.DisplayName))
	if job.NotifyEmail != "" {
		b.WriteString(" → ")
		b.WriteString(telegram.Escape(job.NotifyEmail))
	}
	fmt.Fprintf(&b, "\n📥 %d in queue", backlog)
	return b.String()
}

// emailSubject returns the subject line for an outcome
func emailSubject(job *models.Job, outcome models.Outcome) string {
	if outcome.IsSuccess() {
		return fmt.Sprintf("✅ %s - Processing succeeded - %s", studioName, job.DisplayName)
	}
	return fmt.Sprintf("❌ %s - Processing failed - %s", studioName, job.DisplayName)
}

// emailMarkdown builds the markdown body for an outcome
func emailMarkdown(job *models.Job, outcome models.Outcome) string {
	var b strings.Builder
	name := escapeMarkdown(job.DisplayName)

	fmt.Fprintf(&b, "# %s\n\n", studioName)

	switch outcome.Kind {
	case models.OutcomeSuccess:
		fmt.Fprintf(&b, "Your file **%s** was processed successfully.\n\n", name)
		fmt.Fprintf(&b, "🔗 [Download link](<%s>)\n\n", outcome.ArtifactURL)
		b.WriteString("_Save the image soon, the download link may expire._\n\n")
		fmt.Fprintf(&b, "![Generated image](<%s>)\n\n", outcome.ArtifactURL)

	case models.OutcomeNotFound:
		fmt.Fprintf(&b, "Your file **%s** could not be processed: no generated image was found.\n\n", name)
		fmt.Fprintf(&b, "**Reason:** %s\n\n", escapeMarkdown(outcome.Diagnostic))
		if outcome.BestGuessURL != "" {
			fmt.Fprintf(&b, "The last image on the page may still be useful: [view](<%s>)\n\n", outcome.BestGuessURL)
		}

	default:
		fmt.Fprintf(&b, "Your file **%s** could not be processed.\n\n", name)
		fmt.Fprintf(&b, "**Error:** %s\n\n", escapeMarkdown(outcome.Message))
	}

	if outcome.Prompt != "" {
		fmt.Fprintf(&b, "**Prompt:** %s\n", escapeMarkdown(outcome.Prompt))
	}

	return b.String()
}

// emailHTML renders the markdown body into the email template
func emailHTML(job *models.Job, outcome models.Outcome) string {
	md := emailMarkdown(job, outcome)

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return wrapInEmailTemplate("<pre>" + html.EscapeString(md) + "</pre>")
	}
	return wrapInEmailTemplate(buf.String())
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", `*`, `\*`, `_`, `\_`,
	`[`, `\[`, `]`, `\]`, `<`, `\<`, `>`, `\>`,
	`#`, `\#`, `!`, `\!`, `|`, `\|`, `~`, `\~`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func wrapInEmailTemplate(content string) string {
	return `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; line-height: 1.6; color: #333; max-width: 640px; margin: 0 auto; padding: 20px; background-color: #f9f9f9; }
    .content { background-color: #fff; padding: 30px; border-radius: 8px; box-shadow: 0 1px 3px rgba(0,0,0,0.1); }
    h1 { color: #1a1a1a; font-size: 24px; margin-top: 0; text-align: center; border-bottom: 2px solid #eee; padding-bottom: 10px; }
    p { margin: 12px 0; }
    img { max-width: 400px; height: auto; border: 1px solid #ccc; margin-top: 10px; }
    a { color: #0066cc; text-decoration: none; }
    .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #888; }
  </style>
</head>
<body>
  <div class="content">
` + content + `
  </div>
  <div class="footer">Sent by ` + studioName + `</div>
</body>
</html>`
}
