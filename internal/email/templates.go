package email

import (
	"fmt"
	"html"
	"strings"
	"time"

	"datadesk/internal/config"
	"datadesk/internal/models"
)

// LinkPlaceholder is replaced with the request URL when a mail is rendered.
const LinkPlaceholder = "{{link}}"

// Message is a rendered email ready for the dispatcher.
type Message struct {
	Kind      string // "request" or "reminder"
	RequestID string
	To        []string
	Subject   string
	HTMLBody  string
	TextBody  string
}

// Templates provides email template generation.
type Templates struct {
	cfg *config.Config
}

// NewTemplates creates a new templates instance.
func NewTemplates(cfg *config.Config) *Templates {
	return &Templates{cfg: cfg}
}

// RequestLink returns the URL departments use to open a request.
func (t *Templates) RequestLink(requestID string) string {
	return strings.TrimRight(t.cfg.BaseURL, "/") + "/requests/" + requestID
}

// baseHTML wraps content in a consistent HTML email template.
func (t *Templates) baseHTML(title, content string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #0f4c81; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
        .header h1 { margin: 0; font-size: 24px; }
        .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
        .footer { background: #f3f4f6; padding: 15px; text-align: center; font-size: 12px; color: #6b7280; border-radius: 0 0 8px 8px; border: 1px solid #e5e7eb; border-top: none; }
        .button { display: inline-block; background: #0f4c81; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; margin: 10px 0; }
        .info-box { background: white; border: 1px solid #e5e7eb; border-radius: 6px; padding: 15px; margin: 15px 0; }
        .label { font-weight: 600; color: #374151; }
    </style>
</head>
<body>
    <div class="header">
        <h1>%s</h1>
    </div>
    <div class="content">
        %s
    </div>
    <div class="footer">
        <p>This email was sent by %s</p>
        <p><a href="%s">%s</a></p>
    </div>
</body>
</html>`, html.EscapeString(title), html.EscapeString(t.cfg.SiteTitle), content, html.EscapeString(t.cfg.SiteTitle), t.cfg.BaseURL, t.cfg.BaseURL)
}

// textToHTML escapes plain text and keeps its line breaks.
func textToHTML(text string) string {
	escaped := html.EscapeString(text)
	return strings.ReplaceAll(escaped, "\n", "<br>\n")
}

// RequestCreated renders the mail sent to recipients when a request is created.
// The request's own subject and body are used when set, with the link
// placeholder substituted.
func (t *Templates) RequestCreated(req *models.Request) Message {
	link := t.RequestLink(req.ID)

	deadline := "Not specified"
	if req.Deadline != nil {
		deadline = req.Deadline.String()
	}

	subject := req.EmailSubject
	if strings.TrimSpace(subject) == "" {
		subject = "Data request: " + req.Title
	}
	body := req.EmailBody
	if strings.TrimSpace(body) == "" {
		body = fmt.Sprintf("Hi team,\n\nPlease submit the requested data here: %s\nDeadline: %s\n\nThank you.", LinkPlaceholder, deadline)
	}
	subject = strings.ReplaceAll(subject, LinkPlaceholder, link)
	body = strings.ReplaceAll(body, LinkPlaceholder, link)

	content := fmt.Sprintf(`
        <p>%s</p>

        <div class="info-box">
            <p><span class="label">Request:</span> %s</p>
            <p><span class="label">Departments:</span> %s</p>
            <p><span class="label">Deadline:</span> %s</p>
        </div>

        <a href="%s" class="button">Open request</a>
    `, textToHTML(body),
		html.EscapeString(req.Title),
		html.EscapeString(strings.Join(req.Departments, ", ")),
		html.EscapeString(deadline),
		link,
	)

	return Message{
		Kind:      "request",
		RequestID: req.ID,
		To:        req.Emails,
		Subject:   subject,
		HTMLBody:  t.baseHTML(subject, content),
		TextBody:  body,
	}
}

// Reminder renders the periodic reminder for a request that is still in progress.
func (t *Templates) Reminder(req *models.Request, nextReminder time.Time) Message {
	link := t.RequestLink(req.ID)
	subject := "Reminder: " + req.Title
	next := nextReminder.Format(models.DateLayout)

	var text strings.Builder
	text.WriteString(fmt.Sprintf("Friendly reminder: next reminder is scheduled on %s.\n\n", next))
	text.WriteString(fmt.Sprintf("Please submit the requested data here: %s\n", link))
	if req.Deadline != nil {
		text.WriteString(fmt.Sprintf("Deadline: %s\n", req.Deadline.String()))
	}

	progress := req.Progress()
	content := fmt.Sprintf(`
        <p>Friendly reminder: the request below is still open. The next reminder is scheduled on %s.</p>

        <div class="info-box">
            <p><span class="label">Request:</span> %s</p>
            <p><span class="label">Completed departments:</span> %d of %d</p>
        </div>

        <a href="%s" class="button">Submit data</a>
    `, html.EscapeString(next),
		html.EscapeString(req.Title),
		progress.CompletedDepartments, progress.TotalDepartments,
		link,
	)

	return Message{
		Kind:      "reminder",
		RequestID: req.ID,
		To:        req.Emails,
		Subject:   subject,
		HTMLBody:  t.baseHTML(subject, content),
		TextBody:  text.String(),
	}
}
