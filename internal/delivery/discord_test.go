package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testPush(articles ...Article) Push {
	return Push{
		WindowToken:     "2026-03-14-08:00",
		Frequency:       "daily",
		SummaryLanguage: "zh",
		Articles:        articles,
	}
}

type capturedRequest struct {
	payload discordPayload
}

func newWebhookServer(t *testing.T, handler func(w http.ResponseWriter, payload discordPayload, call int)) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		captured []capturedRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload discordPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode webhook payload: %v", err)
		}
		mu.Lock()
		captured = append(captured, capturedRequest{payload: payload})
		call := len(captured)
		mu.Unlock()
		if handler != nil {
			handler(w, payload, call)
		}
	}))
	t.Cleanup(server.Close)
	return server, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		out := make([]capturedRequest, len(captured))
		copy(out, captured)
		return out
	}
}

func TestDiscordDeliverSendsEmbedsAndSummary(t *testing.T) {
	t.Parallel()

	server, requests := newWebhookServer(t, nil)
	provider := NewDiscordProvider(time.Millisecond, zerolog.Nop())

	push := testPush(
		Article{Title: "蘋果發表新晶片", Summary: "Apple 公布新一代處理器", URL: "https://example.com/a", Score: 0.85},
		Article{Title: "Fed 按兵不動", Summary: "利率維持不變", URL: "https://example.com/b", Score: 0.7},
	)
	results, err := provider.Deliver(context.Background(), server.URL, push)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 item results, got %d", len(results))
	}
	for _, result := range results {
		if !result.Success {
			t.Fatalf("expected success, got %+v", result)
		}
	}

	got := requests()
	if len(got) != 3 {
		t.Fatalf("expected 2 embeds plus summary, got %d requests", len(got))
	}
	first := got[0].payload
	if len(first.Embeds) != 1 || first.Embeds[0].Title != "蘋果發表新晶片" {
		t.Fatalf("unexpected first payload: %+v", first)
	}
	summary := got[2].payload
	if summary.Content == "" || len(summary.Embeds) != 0 {
		t.Fatalf("expected plain summary message, got %+v", summary)
	}
}

func TestDiscordDeliverIsolatesItemFailures(t *testing.T) {
	t.Parallel()

	server, _ := newWebhookServer(t, func(w http.ResponseWriter, payload discordPayload, call int) {
		if call == 1 {
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	provider := NewDiscordProvider(time.Millisecond, zerolog.Nop())

	push := testPush(
		Article{Title: "first"},
		Article{Title: "second"},
	)
	results, err := provider.Deliver(context.Background(), server.URL, push)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if results[0].Success {
		t.Fatal("expected first item to fail")
	}
	if results[0].Error == "" {
		t.Fatal("expected error message on failed item")
	}
	if !results[1].Success {
		t.Fatal("expected second item to succeed despite first failing")
	}
}

func TestDiscordDeliverRetriesRateLimit(t *testing.T) {
	t.Parallel()

	server, requests := newWebhookServer(t, func(w http.ResponseWriter, payload discordPayload, call int) {
		if call == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"retry_after": 0.01}`))
		}
	})
	provider := NewDiscordProvider(time.Millisecond, zerolog.Nop())

	results, err := provider.Deliver(context.Background(), server.URL, testPush(Article{Title: "only"}))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if !results[0].Success {
		t.Fatalf("expected success after rate-limit retry, got %+v", results[0])
	}
	// item attempt, retried item, summary
	if got := len(requests()); got != 3 {
		t.Fatalf("expected 3 requests, got %d", got)
	}
}

func TestDiscordDeliverStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	server, _ := newWebhookServer(t, nil)
	provider := NewDiscordProvider(time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	push := testPush(Article{Title: "first"}, Article{Title: "second"})
	results, err := provider.Deliver(ctx, server.URL, push)
	if err == nil {
		t.Fatal("expected context error")
	}
	if len(results) != 1 {
		t.Fatalf("expected only the first item delivered, got %d", len(results))
	}
}

func TestValidateWebhookURL(t *testing.T) {
	t.Parallel()

	valid := []string{
		"https://discord.com/api/webhooks/123/token",
		"https://discordapp.com/api/webhooks/123/token",
		"http://127.0.0.1:8080/webhook",
	}
	for _, target := range valid {
		if err := validateWebhookURL(target); err != nil {
			t.Fatalf("expected %q valid: %v", target, err)
		}
	}
	invalid := []string{
		"",
		"https://example.com/api/webhooks/123",
		"https://discord.com/api/webhooks/",
	}
	for _, target := range invalid {
		if err := validateWebhookURL(target); err == nil {
			t.Fatalf("expected %q rejected", target)
		}
	}
}

func TestEmbedTruncation(t *testing.T) {
	t.Parallel()

	long := make([]rune, 0, discordEmbedTitleLimit+50)
	for i := 0; i < discordEmbedTitleLimit+50; i++ {
		long = append(long, '字')
	}
	embed := embedFor(Article{Title: string(long)})
	if got := len([]rune(embed.Title)); got != discordEmbedTitleLimit {
		t.Fatalf("expected title truncated to %d runes, got %d", discordEmbedTitleLimit, got)
	}
}

func TestSummaryTextLocalized(t *testing.T) {
	t.Parallel()

	push := testPush(Article{Title: "a"})
	if zh := summaryText(push); zh == "" || zh == summaryText(Push{SummaryLanguage: "en-US", Articles: push.Articles, WindowToken: push.WindowToken}) {
		t.Fatalf("expected language-specific summaries, got %q", zh)
	}
}
