package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the effective setup
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("GhibliFlow", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("entry_url", config.Browser.EntryURL).
		Str("cookies_path", config.Browser.CookiesPath).
		Bool("headless", config.Browser.Headless).
		Bool("telegram", config.Telegram.BotToken != "" && config.Telegram.ChatID != 0).
		Bool("smtp", config.SMTP.Host != "").
		Msg("Configuration summary")
}
