package config

import (
	"regexp"
	"slices"
)

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.Password)
	out.Postgres.DSN = redactDSN(cfg.Postgres.DSN)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Pools = slices.Clone(cfg.Pools)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

var (
	dsnURLPassword = regexp.MustCompile(`(://[^:/@]+:)[^@]*@`)
	dsnKVPassword  = regexp.MustCompile(`(password=)\S+`)
)

// redactDSN masks the password in URL or key=value connection strings and
// keeps the rest readable.
func redactDSN(dsn string) string {
	dsn = dsnURLPassword.ReplaceAllString(dsn, "${1}"+redacted+"@")
	return dsnKVPassword.ReplaceAllString(dsn, "${1}"+redacted)
}
