package notifx

import (
	"context"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/metricx"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
)

// CodeNotifier implements otp.Notifier on top of a Sender.
type CodeNotifier struct {
	sender     Sender
	recipients RecipientResolver
	appName    string
}

func NewCodeNotifier(sender Sender, recipients RecipientResolver, appName string) *CodeNotifier {
	return &CodeNotifier{sender: sender, recipients: recipients, appName: appName}
}

func (n *CodeNotifier) SendCode(ctx context.Context, d otp.Delivery) error {
	to, err := n.recipients.EmailForSubject(ctx, d.SubjectID)
	if err != nil {
		return errx.Wrap(err, "failed to resolve recipient", errx.TypeInternal)
	}

	subject, html, text, err := Render(n.appName, d)
	if err != nil {
		return errx.Wrap(err, "failed to render email", errx.TypeInternal)
	}

	start := time.Now()
	err = n.sender.Send(ctx, Message{To: to, Subject: subject, HTML: html, Text: text})
	status := "ok"
	if err != nil {
		status = "error"
	}
	metricx.DeliveryDuration.WithLabelValues(n.sender.Name(), status).Observe(time.Since(start).Seconds())
	if err != nil {
		return errx.Wrap(err, "email provider rejected message", errx.TypeExternal).
			WithDetail("provider", n.sender.Name())
	}
	return nil
}
