package delivery

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

// SMTPConfig carries the SMTP relay settings for email delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EmailProvider sends the whole batch as one plain-text digest. All
// items share the message's fate: one send, one outcome.
type EmailProvider struct {
	config SMTPConfig
	logger zerolog.Logger

	// send is swappable for tests.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailProvider(config SMTPConfig, logger zerolog.Logger) *EmailProvider {
	return &EmailProvider{
		config: config,
		logger: logger,
		send:   smtp.SendMail,
	}
}

func (p *EmailProvider) Name() string { return PlatformEmail }

func (p *EmailProvider) Deliver(ctx context.Context, target string, push Push) ([]ItemResult, error) {
	if strings.TrimSpace(target) == "" || !strings.Contains(target, "@") {
		return nil, fmt.Errorf("invalid email target %q", target)
	}
	if p.config.Host == "" {
		return nil, fmt.Errorf("smtp relay is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	message := buildEmailMessage(p.config.From, target, push)

	var auth smtp.Auth
	if p.config.Username != "" {
		auth = smtp.PlainAuth("", p.config.Username, p.config.Password, p.config.Host)
	}

	results := make([]ItemResult, 0, len(push.Articles))
	err := p.send(p.config.addr(), auth, p.config.From, []string{target}, message)
	for i, article := range push.Articles {
		result := ItemResult{Index: i, Title: article.Title, Success: err == nil}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	if err != nil {
		p.logger.Warn().Err(err).Str("target", target).Msg("email delivery failed")
	}
	return results, nil
}

func buildEmailMessage(from, to string, push Push) []byte {
	var builder strings.Builder
	subject := fmt.Sprintf("財經新聞推送（%d 則）", len(push.Articles))
	if strings.HasPrefix(strings.ToLower(push.SummaryLanguage), "en") {
		subject = fmt.Sprintf("Financial news digest (%d articles)", len(push.Articles))
	}

	builder.WriteString("From: " + from + "\r\n")
	builder.WriteString("To: " + to + "\r\n")
	// RFC 2047 encoding for the non-ASCII subjects.
	builder.WriteString("Subject: " + mime.QEncoding.Encode("UTF-8", subject) + "\r\n")
	builder.WriteString("MIME-Version: 1.0\r\n")
	builder.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	builder.WriteString("\r\n")

	for i, article := range push.Articles {
		builder.WriteString(fmt.Sprintf("%d. %s\r\n", i+1, article.Title))
		if article.Summary != "" {
			builder.WriteString(truncateRunes(article.Summary, 500) + "\r\n")
		}
		if article.URL != "" {
			builder.WriteString(article.URL + "\r\n")
		}
		builder.WriteString("\r\n")
	}
	builder.WriteString(summaryText(push) + "\r\n")
	return []byte(builder.String())
}
