// pkg/config/email.go
package config

type EmailConfig struct {
	Provider     string
	FromAddress  string
	FromName     string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	AWSRegion    string
}

func loadEmailConfig() EmailConfig {
	return EmailConfig{
		Provider:     getEnv("EMAIL_PROVIDER", "console"),
		FromAddress:  getEnv("EMAIL_FROM_ADDRESS", "noreply@bluerock.com"),
		FromName:     getEnv("EMAIL_FROM_NAME", "Bluerock"),
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
	}
}

type StorageConfig struct {
	Mode      string
	UploadDir string
	Bucket    string
	Prefix    string
	AWSRegion string
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Mode:      getEnv("STORAGE_MODE", "local"),
		UploadDir: getEnv("UPLOAD_DIR", "./uploads"),
		Bucket:    getEnv("AWS_BUCKET", "bluerock-receipts"),
		Prefix:    getEnv("AWS_BUCKET_PREFIX", ""),
		AWSRegion: getEnv("AWS_REGION", "us-east-1"),
	}
}

type EventsConfig struct {
	KafkaBrokers []string
	Topic        string
}

func (c EventsConfig) Enabled() bool {
	return len(c.KafkaBrokers) > 0
}

func loadEventsConfig() EventsConfig {
	return EventsConfig{
		KafkaBrokers: getEnvStringSlice("KAFKA_BROKERS", nil),
		Topic:        getEnv("EVENTS_KAFKA_TOPIC", "bluerock-events"),
	}
}
