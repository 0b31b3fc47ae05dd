package notifx

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/otp"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	codeTemplate       = template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/code.html"))
	withdrawalTemplate = template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/withdrawal.html"))
)

type copyText struct {
	subject string
	intro   string
}

var purposeCopy = map[otp.Purpose]copyText{
	otp.PurposeLogin:             {"Your login code", "Use this code to finish signing in."},
	otp.PurposeWithdrawal:        {"Your withdrawal PIN", "A withdrawal was requested from your account."},
	otp.PurposeProfileUpdate:     {"Confirm your profile change", "Use this code to confirm changes to your profile or security settings."},
	otp.PurposeEmailVerification: {"Verify your email address", "Welcome! Use this code to verify your email address."},
	otp.PurposeOther:             {"Your verification code", "Use this code to continue."},
}

type templateData struct {
	AppName    string
	Intro      string
	Code       string
	ExpiresAt  string
	Attributes map[string]string
}

// Render builds the email for a delivery.
func Render(appName string, d otp.Delivery) (subject, html, text string, err error) {
	c, ok := purposeCopy[d.Purpose]
	if !ok {
		c = purposeCopy[otp.PurposeOther]
	}

	data := templateData{
		AppName:    appName,
		Intro:      c.intro,
		Code:       d.Code,
		ExpiresAt:  d.ExpiresAt.UTC().Format(time.RFC1123),
		Attributes: d.Attributes,
	}

	tmpl := codeTemplate
	if d.Purpose == otp.PurposeWithdrawal && d.Attributes["withdrawal_id"] != "" {
		tmpl = withdrawalTemplate
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		return "", "", "", fmt.Errorf("execute email template: %w", err)
	}

	subject = fmt.Sprintf("%s - %s", appName, c.subject)
	text = fmt.Sprintf("%s\n\nCode: %s\nExpires: %s\n", c.intro, d.Code, data.ExpiresAt)
	return subject, buf.String(), text, nil
}
