package notifx

import (
	"context"
	"regexp"

	"github.com/influence20/bluerocksite-sub000/pkg/logx"
)

var codePattern = regexp.MustCompile(`Code: (\d+)`)

// ConsoleSender logs messages instead of sending them. The code itself is only
// logged when showCodes is set, which the server does in development.
type ConsoleSender struct {
	showCodes bool
}

func NewConsoleSender(showCodes bool) *ConsoleSender {
	return &ConsoleSender{showCodes: showCodes}
}

func (s *ConsoleSender) Name() string { return "console" }

func (s *ConsoleSender) Send(ctx context.Context, msg Message) error {
	entry := logx.WithFields(logx.Fields{"to": msg.To, "subject": msg.Subject})
	if s.showCodes {
		if m := codePattern.FindStringSubmatch(msg.Text); len(m) == 2 {
			entry = entry.WithField("code", m[1])
		}
	}
	entry.Info("📧 Email (console)")
	return nil
}
