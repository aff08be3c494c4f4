package delivery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Platform names accepted in subscriptions.delivery_platform.
const (
	PlatformDiscord = "discord"
	PlatformEmail   = "email"
)

// Article is one item of a push, already scored and selected.
type Article struct {
	Title       string
	Summary     string
	URL         string
	Score       float64
	PublishedAt time.Time
}

// Push is everything a provider needs to deliver one window's batch to
// one user.
type Push struct {
	WindowToken     string
	Frequency       string
	SummaryLanguage string
	Articles        []Article
}

// ItemResult records the outcome for a single article. A failed item
// never aborts the remaining ones.
type ItemResult struct {
	Index   int
	Title   string
	Success bool
	Error   string
}

// Provider delivers a push batch to one target on one platform.
type Provider interface {
	Name() string
	Deliver(ctx context.Context, target string, push Push) ([]ItemResult, error)
}

// Registry stores delivery providers keyed by platform name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(provider Provider) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	if provider == nil {
		return fmt.Errorf("provider is nil")
	}
	name := normalizePlatformName(provider.Name())
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	r.providers[name] = provider
	return nil
}

// Provider resolves a provider by platform name.
func (r *Registry) Provider(platform string) (Provider, error) {
	if r == nil || len(r.providers) == 0 {
		return nil, fmt.Errorf("no delivery providers are registered")
	}
	name := normalizePlatformName(platform)
	provider, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("delivery platform %q is not registered (available: %s)", name, strings.Join(r.PlatformNames(), ", "))
	}
	return provider, nil
}

func (r *Registry) PlatformNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizePlatformName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	if limit <= 1 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}
