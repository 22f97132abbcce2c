package config

import (
	"fmt"

	"github.com/alanyoungcy/basketbot/internal/crypto"
)

// ThreeCommasSecret resolves the 3Commas API secret from the raw value or
// the encrypted secret file.
func (c *Config) ThreeCommasSecret() (string, error) {
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:           c.ThreeCommas.APISecret,
		EncryptedPath: c.ThreeCommas.EncryptedSecretPath,
		Password:      c.ThreeCommas.SecretPassword,
	})
	if err != nil {
		return "", fmt.Errorf("config: threecommas secret: %w", err)
	}
	return secret, nil
}

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Database.DSN)
	redact(&out.Database.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.ThreeCommas.APIKey)
	redact(&out.ThreeCommas.APISecret)
	redact(&out.ThreeCommas.SecretPassword)
	redact(&out.CoinGecko.APIKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Pricing.Fallback = append([]string(nil), cfg.Pricing.Fallback...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Bots = append([]BotConfig(nil), cfg.Bots...)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
