package email

// Config holds outbound email configuration. Postmark delivery is enabled by
// PostmarkServerToken; without it, DevOutputDir selects the on-disk sender.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"EMAIL_SENDER" envDefault:"billing@localhost"`
	SupportEmail         string `env:"EMAIL_SUPPORT" envDefault:"support@localhost"`
	DevOutputDir         string `env:"EMAIL_DEV_OUTPUT_DIR"`
}

// Enabled reports whether any sender is configured.
func (c Config) Enabled() bool {
	return c.PostmarkServerToken != "" || c.DevOutputDir != ""
}
