package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultItemDelay = 1500 * time.Millisecond

	discordEmbedTitleLimit       = 256
	discordEmbedDescriptionLimit = 2048
	discordEmbedColor            = 0x1E88E5
)

// ErrRateLimited marks a webhook rejection that persisted past the
// single backoff retry.
var ErrRateLimited = errors.New("delivery rate limited")

var discordWebhookPrefixes = []string{
	"https://discord.com/api/webhooks/",
	"https://discordapp.com/api/webhooks/",
}

// DiscordProvider posts each article as one webhook embed, pacing
// requests so a batch never trips Discord's per-webhook rate limit,
// then closes the batch with a summary message.
type DiscordProvider struct {
	client    *http.Client
	itemDelay time.Duration
	logger    zerolog.Logger
}

type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	URL         string              `json:"url,omitempty"`
	Color       int                 `json:"color"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

func NewDiscordProvider(itemDelay time.Duration, logger zerolog.Logger) *DiscordProvider {
	if itemDelay <= 0 {
		itemDelay = DefaultItemDelay
	}
	return &DiscordProvider{
		client:    &http.Client{Timeout: 15 * time.Second},
		itemDelay: itemDelay,
		logger:    logger,
	}
}

func (p *DiscordProvider) Name() string { return PlatformDiscord }

// Deliver sends one embed per article. Item failures are recorded and
// the batch continues; only an invalid target or cancelled context
// aborts the whole delivery.
func (p *DiscordProvider) Deliver(ctx context.Context, target string, push Push) ([]ItemResult, error) {
	if err := validateWebhookURL(target); err != nil {
		return nil, err
	}

	results := make([]ItemResult, 0, len(push.Articles))
	for i, article := range push.Articles {
		if i > 0 {
			if err := sleepContext(ctx, p.itemDelay); err != nil {
				return results, err
			}
		}

		result := ItemResult{Index: i, Title: article.Title, Success: true}
		if err := p.post(ctx, target, discordPayload{Embeds: []discordEmbed{embedFor(article)}}); err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			result.Success = false
			result.Error = err.Error()
			p.logger.Warn().Err(err).Str("title", article.Title).Msg("discord item delivery failed")
		}
		results = append(results, result)
	}

	// The summary closes the batch. Its failure does not undo the
	// already-delivered items.
	if len(push.Articles) > 0 {
		if err := p.post(ctx, target, discordPayload{Content: summaryText(push)}); err != nil && ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("discord summary delivery failed")
		}
	}
	return results, nil
}

// post performs one webhook request, retrying once when Discord asks to
// back off.
func (p *DiscordProvider) post(ctx context.Context, target string, payload discordPayload) error {
	for attempt := 0; attempt < 2; attempt++ {
		retryAfter, err := p.postOnce(ctx, target, payload)
		if err == nil {
			return nil
		}
		if retryAfter <= 0 || attempt == 1 {
			return err
		}
		if sleepErr := sleepContext(ctx, retryAfter); sleepErr != nil {
			return sleepErr
		}
	}
	return nil
}

func (p *DiscordProvider) postOnce(ctx context.Context, target string, payload discordPayload) (time.Duration, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("discord request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return 0, nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusTooManyRequests {
		err = fmt.Errorf("%w: discord webhook status %d: %s", ErrRateLimited, resp.StatusCode, strings.TrimSpace(string(respBody)))
		return retryAfterFrom(respBody), err
	}
	return 0, fmt.Errorf("discord webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
}

func embedFor(article Article) discordEmbed {
	embed := discordEmbed{
		Title:       truncateRunes(article.Title, discordEmbedTitleLimit),
		Description: truncateRunes(article.Summary, discordEmbedDescriptionLimit),
		URL:         article.URL,
		Color:       discordEmbedColor,
	}
	if !article.PublishedAt.IsZero() {
		embed.Timestamp = article.PublishedAt.UTC().Format(time.RFC3339)
	}
	if article.Score > 0 {
		embed.Footer = &discordEmbedFooter{Text: fmt.Sprintf("相關度 %.0f%%", article.Score*100)}
	}
	return embed
}

func summaryText(push Push) string {
	if strings.HasPrefix(strings.ToLower(push.SummaryLanguage), "en") {
		return fmt.Sprintf("📰 Delivered %d articles for window %s.", len(push.Articles), push.WindowToken)
	}
	return fmt.Sprintf("📰 本次共推送 %d 則財經新聞（%s）。", len(push.Articles), push.WindowToken)
}

// validateWebhookURL accepts real Discord webhook URLs plus loopback
// targets, so locally mocked webhooks keep working.
func validateWebhookURL(target string) error {
	trimmed := strings.TrimSpace(target)
	for _, prefix := range discordWebhookPrefixes {
		if strings.HasPrefix(trimmed, prefix) && len(trimmed) > len(prefix) {
			return nil
		}
	}
	parsed, err := url.Parse(trimmed)
	if err == nil {
		host := parsed.Hostname()
		if host == "localhost" || host == "127.0.0.1" {
			return nil
		}
	}
	return fmt.Errorf("invalid discord webhook URL")
}

func retryAfterFrom(body []byte) time.Duration {
	var parsed struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.RetryAfter <= 0 {
		return time.Second
	}
	return time.Duration(parsed.RetryAfter * float64(time.Second))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
