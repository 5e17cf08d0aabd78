package services

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

// Template ids understood by every EmailSender
const (
	TemplateMagicLink     = "magic_link"
	TemplateVerifyEmail   = "verify_email"
	TemplatePasswordReset = "password_reset"
)

type emailTemplate struct {
	subject string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

const emailLayoutHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .content { padding: 20px 0; }
        .button { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>{{template "title" .}}</h1>
        </div>
        <div class="content">
            {{template "body" .}}
            <p><a href="{{.url}}" class="button">{{template "action" .}}</a></p>
            <p>Or copy and paste this link in your browser:<br>
            <code>{{.url}}</code></p>
            <div class="warning">
                <strong>Security Notice:</strong> This link will expire in {{.expires_in}}.
            </div>
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`

const magicLinkHTML = `
{{define "title"}}Your Magic Login Link{{end}}
{{define "action"}}Log In{{end}}
{{define "body"}}
<p>Click the button below to log in. The link can be used once.</p>
<p>If you did not request this link, you can ignore this email.</p>
{{end}}`

const magicLinkText = `Your Magic Login Link

Use the link below to log in. The link can be used once and expires in {{.expires_in}}.

{{.url}}

If you did not request this link, you can ignore this email.
`

const verifyEmailHTML = `
{{define "title"}}Verify Your Email Address{{end}}
{{define "action"}}Verify Email Address{{end}}
{{define "body"}}
<p>Welcome!</p>
<p>To complete your registration, please verify your email address by clicking the link below.</p>
<p><strong>Didn't create this account?</strong><br>
You can ignore this email. Your email address will not be verified.</p>
{{end}}`

const verifyEmailText = `Verify Your Email Address

To complete your registration, please verify your email address:

{{.url}}

This link will expire in {{.expires_in}}.

Didn't create this account? You can ignore this email.
`

const passwordResetHTML = `
{{define "title"}}Reset Your Password{{end}}
{{define "action"}}Choose a New Password{{end}}
{{define "body"}}
<p>We received a request to reset the password for your account.</p>
<p>Resetting the password signs you out everywhere. The link can be used once.</p>
<p><strong>Didn't ask for this?</strong><br>
You can ignore this email. Your password will not change.</p>
{{end}}`

const passwordResetText = `Reset Your Password

We received a request to reset the password for your account. Resetting the
password signs you out everywhere. The link can be used once:

{{.url}}

This link will expire in {{.expires_in}}.

Didn't ask for this? You can ignore this email. Your password will not change.
`

var emailTemplates = map[string]emailTemplate{
	TemplateMagicLink: {
		subject: "Your Magic Login Link",
		html:    htmltemplate.Must(htmltemplate.Must(htmltemplate.New(TemplateMagicLink).Parse(emailLayoutHTML)).Parse(magicLinkHTML)),
		text:    texttemplate.Must(texttemplate.New(TemplateMagicLink).Parse(magicLinkText)),
	},
	TemplateVerifyEmail: {
		subject: "Verify your email address",
		html:    htmltemplate.Must(htmltemplate.Must(htmltemplate.New(TemplateVerifyEmail).Parse(emailLayoutHTML)).Parse(verifyEmailHTML)),
		text:    texttemplate.Must(texttemplate.New(TemplateVerifyEmail).Parse(verifyEmailText)),
	},
	TemplatePasswordReset: {
		subject: "Reset your password",
		html:    htmltemplate.Must(htmltemplate.Must(htmltemplate.New(TemplatePasswordReset).Parse(emailLayoutHTML)).Parse(passwordResetHTML)),
		text:    texttemplate.Must(texttemplate.New(TemplatePasswordReset).Parse(passwordResetText)),
	},
}

type renderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

func renderEmail(templateID string, vars map[string]string) (*renderedEmail, error) {
	tmpl, ok := emailTemplates[templateID]
	if !ok {
		return nil, fmt.Errorf("unknown email template %q", templateID)
	}

	var html, text bytes.Buffer
	if err := tmpl.html.Execute(&html, vars); err != nil {
		return nil, fmt.Errorf("failed to render %s html: %w", templateID, err)
	}
	if err := tmpl.text.Execute(&text, vars); err != nil {
		return nil, fmt.Errorf("failed to render %s text: %w", templateID, err)
	}

	return &renderedEmail{
		Subject: tmpl.subject,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
