package notifx

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/influence20/bluerocksite-sub000/pkg/config"
)

// NewSender builds the sender selected by EMAIL_PROVIDER.
func NewSender(ctx context.Context, cfg config.EmailConfig, showCodes bool) (Sender, error) {
	switch cfg.Provider {
	case "console", "":
		return NewConsoleSender(showCodes), nil
	case "smtp":
		return NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.FromAddress, cfg.FromName), nil
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return NewSESSender(awsCfg, cfg.FromAddress, cfg.FromName), nil
	default:
		return nil, fmt.Errorf("unknown EMAIL_PROVIDER %q", cfg.Provider)
	}
}
