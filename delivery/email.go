package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"gameverse-api/config"
	"gameverse-api/models"
)

// Sender is satisfied by *gomail.Dialer
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// UserLookup resolves the recipient's address
type UserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type EmailChannel struct {
	sender    Sender
	users     UserLookup
	settings  SettingsSource
	types     map[models.NotificationType]bool
	fromEmail string
	fromName  string
	publicURL string
}

func NewEmailChannel(cfg *config.Config, sender Sender, users UserLookup, settings SettingsSource) *EmailChannel {
	types := make(map[models.NotificationType]bool, len(cfg.Notification.EmailTypes))
	for _, t := range cfg.Notification.EmailTypes {
		types[models.NotificationType(strings.ToUpper(t))] = true
	}
	return &EmailChannel{
		sender:    sender,
		users:     users,
		settings:  settings,
		types:     types,
		fromEmail: cfg.SMTP.FromEmail,
		fromName:  cfg.SMTP.FromName,
		publicURL: strings.TrimRight(cfg.App.PublicURL, "/"),
	}
}

// NewDialer builds the SMTP sender from config
func NewDialer(cfg config.SMTPConfig) *gomail.Dialer {
	return gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
}

func (c *EmailChannel) Name() string {
	return "email"
}

func (c *EmailChannel) Push(ctx context.Context, userID string, n *models.Notification) error {
	if !c.types[n.Type] {
		return nil
	}

	settings, err := c.settings.GetSettings(ctx, userID)
	if err != nil {
		return fmt.Errorf("load notification settings: %w", err)
	}
	if !settings.WantsEmail(n.Type) {
		return nil
	}

	user, err := c.users.FindByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Permanent(fmt.Errorf("recipient %s no longer exists", userID))
	}
	if err != nil {
		return fmt.Errorf("load recipient: %w", err)
	}

	m, err := c.buildMessage(user, n)
	if err != nil {
		return Permanent(err)
	}
	if err := c.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

type emailView struct {
	Name    string
	Title   string
	Content string
	Link    string
	AppName string
}

var emailTemplate = template.Must(template.New("notification").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #5b21b6; color: white; padding: 20px; border-radius: 10px 10px 0 0; }
        .content { background: #f8f9fa; padding: 30px; border-radius: 0 0 10px 10px; }
        .btn { display: inline-block; background: #5b21b6; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; }
        .footer { text-align: center; margin-top: 20px; color: #666; font-size: 13px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header"><h2>{{.Title}}</h2></div>
        <div class="content">
            <p>Hi {{.Name}},</p>
            <p>{{.Content}}</p>
            {{if .Link}}<p><a class="btn" href="{{.Link}}">Open in {{.AppName}}</a></p>{{end}}
        </div>
        <div class="footer">
            <p>You can turn off email notifications in your {{.AppName}} settings.</p>
        </div>
    </div>
</body>
</html>`))

func (c *EmailChannel) buildMessage(user *models.User, n *models.Notification) (*gomail.Message, error) {
	view := emailView{
		Name:    user.Name,
		Title:   n.Title,
		Content: n.Content,
		AppName: c.fromName,
	}
	if target := n.TargetURL(); target != "" {
		view.Link = c.publicURL + target
	}

	var html bytes.Buffer
	if err := emailTemplate.Execute(&html, view); err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}

	text := fmt.Sprintf("Hi %s,\n\n%s\n", user.Name, n.Content)
	if view.Link != "" {
		text += "\n" + view.Link + "\n"
	}

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(c.fromEmail, c.fromName))
	m.SetHeader("To", user.Email)
	m.SetHeader("Subject", fmt.Sprintf("%s - %s", c.fromName, n.Title))
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html.String())
	return m, nil
}
