package pusher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/YCLstock/finnews-bot/internal/clustering"
	"github.com/YCLstock/finnews-bot/internal/db"
	"github.com/YCLstock/finnews-bot/internal/delivery"
	"github.com/YCLstock/finnews-bot/internal/globaltime"
	"github.com/YCLstock/finnews-bot/internal/schedule"
	"github.com/YCLstock/finnews-bot/internal/scoring"
	"github.com/YCLstock/finnews-bot/internal/topics"
)

const (
	DefaultWorkerPoolSize    = 4
	DefaultCandidateLookback = 6 * time.Hour

	// candidateFetchMultiplier oversamples candidates so ranking has
	// more than the per-push cap to choose from.
	candidateFetchMultiplier = 5
)

type Options struct {
	WorkerPoolSize    int
	CandidateLookback time.Duration
	// BatchTimeout bounds the start of new subscriptions; work already
	// in flight is allowed to finish.
	BatchTimeout time.Duration
}

// BatchResult aggregates one batch run's outcomes.
type BatchResult struct {
	Subscriptions int
	Pushed        int
	Empty         int
	Skipped       int
	Conflicts     int
	Failed        int
	ConfigErrors  int
	Articles      int
}

// SmartPusher walks all active subscriptions once per invocation,
// refreshes stale derived tags, scores recent articles and delivers the
// top of the ranking to each user whose push window is open. One
// subscription failing never affects the others.
type SmartPusher struct {
	store     Store
	registry  *delivery.Registry
	clusterer *clustering.Clusterer
	scheduler *schedule.Scheduler
	scorer    *scoring.Scorer
	logger    zerolog.Logger
	options   Options
}

func New(
	store Store,
	registry *delivery.Registry,
	clusterer *clustering.Clusterer,
	scheduler *schedule.Scheduler,
	scorer *scoring.Scorer,
	logger zerolog.Logger,
	options Options,
) *SmartPusher {
	normalized := options
	if normalized.WorkerPoolSize <= 0 {
		normalized.WorkerPoolSize = DefaultWorkerPoolSize
	}
	if normalized.CandidateLookback <= 0 {
		normalized.CandidateLookback = DefaultCandidateLookback
	}
	return &SmartPusher{
		store:     store,
		registry:  registry,
		clusterer: clusterer,
		scheduler: scheduler,
		scorer:    scorer,
		logger:    logger,
		options:   normalized,
	}
}

// RunBatch processes every active subscription once.
func (p *SmartPusher) RunBatch(ctx context.Context) (BatchResult, error) {
	if p == nil || p.store == nil {
		return BatchResult{}, fmt.Errorf("pusher is not initialized")
	}

	mapper, err := p.loadMapper(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	subscriptions, err := p.store.ListActiveSubscriptions(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list active subscriptions: %w", err)
	}

	// The deadline gates starting new subscriptions. In-flight work
	// keeps the parent context so deliveries are not cut mid-batch.
	gate := ctx
	cancel := context.CancelFunc(func() {})
	if p.options.BatchTimeout > 0 {
		gate, cancel = context.WithTimeout(ctx, p.options.BatchTimeout)
	}
	defer cancel()

	var (
		mu     sync.Mutex
		result = BatchResult{Subscriptions: len(subscriptions)}
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.options.WorkerPoolSize)
	for _, subscription := range subscriptions {
		subscription := subscription
		if gate.Err() != nil || groupCtx.Err() != nil {
			mu.Lock()
			result.Skipped++
			mu.Unlock()
			continue
		}
		group.Go(func() error {
			outcome := p.processSubscription(groupCtx, mapper, subscription)
			mu.Lock()
			defer mu.Unlock()
			result.Pushed += outcome.Pushed
			result.Empty += outcome.Empty
			result.Skipped += outcome.Skipped
			result.Conflicts += outcome.Conflicts
			result.Failed += outcome.Failed
			result.ConfigErrors += outcome.ConfigErrors
			result.Articles += outcome.Articles
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return result, err
	}

	p.logger.Info().
		Int("subscriptions", result.Subscriptions).
		Int("pushed", result.Pushed).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Int("config_errors", result.ConfigErrors).
		Int("articles", result.Articles).
		Msg("push batch finished")
	return result, nil
}

// RefreshStaleTags recomputes derived tags for subscriptions whose
// keywords changed since the last tag computation, without pushing.
func (p *SmartPusher) RefreshStaleTags(ctx context.Context) (int, error) {
	if p == nil || p.store == nil {
		return 0, fmt.Errorf("pusher is not initialized")
	}
	mapper, err := p.loadMapper(ctx)
	if err != nil {
		return 0, err
	}
	subscriptions, err := p.store.ListStaleSubscriptions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stale subscriptions: %w", err)
	}

	refreshed := 0
	for _, subscription := range subscriptions {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		if _, err := p.refreshTags(ctx, mapper, &subscription); err != nil {
			p.logger.Error().Err(err).Str("user_id", subscription.UserID).Msg("tag refresh failed")
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// loadMapper builds the topic mapper from the database vocabulary,
// falling back to the embedded one when the tables are unreachable or
// empty.
func (p *SmartPusher) loadMapper(ctx context.Context) (*topics.Mapper, error) {
	rows, err := p.store.LoadVocabularyRows(ctx)
	if err == nil {
		vocab, buildErr := topics.VocabularyFromRows(rows)
		if buildErr == nil {
			return topics.NewMapper(vocab), nil
		}
		err = buildErr
	}
	p.logger.Warn().Err(err).Msg("database vocabulary unavailable, using builtin")

	vocab, err := topics.LoadBuiltinVocabulary()
	if err != nil {
		return nil, fmt.Errorf("load builtin vocabulary: %w", err)
	}
	return topics.NewMapper(vocab), nil
}

type subscriptionOutcome struct {
	Pushed       int
	Empty        int
	Skipped      int
	Conflicts    int
	Failed       int
	ConfigErrors int
	Articles     int
}

func (p *SmartPusher) processSubscription(ctx context.Context, mapper *topics.Mapper, subscription db.Subscription) subscriptionOutcome {
	logger := p.logger.With().Str("user_id", subscription.UserID).Logger()

	now := globaltime.UTC()
	window, open, err := p.scheduler.CurrentWindow(subscription.PushFrequencyType, now)
	if err != nil {
		logger.Error().Err(err).Str("frequency", subscription.PushFrequencyType).Msg("subscription misconfigured")
		return subscriptionOutcome{ConfigErrors: 1}
	}
	if !open {
		return subscriptionOutcome{Skipped: 1}
	}
	if subscription.LastPushWindow != nil && *subscription.LastPushWindow == window.Token {
		return subscriptionOutcome{Skipped: 1}
	}

	limit, err := schedule.MaxArticles(subscription.PushFrequencyType)
	if err != nil {
		return subscriptionOutcome{ConfigErrors: 1}
	}

	provider, err := p.registry.Provider(subscription.DeliveryPlatform)
	if err != nil {
		logger.Error().Err(err).Str("platform", subscription.DeliveryPlatform).Msg("subscription misconfigured")
		return subscriptionOutcome{ConfigErrors: 1}
	}

	subscribedTags := subscription.SubscribedTagList()
	if subscription.TagsStale() || len(subscribedTags) == 0 {
		refreshedTags, err := p.refreshTags(ctx, mapper, &subscription)
		if err != nil {
			// Stale tags still beat no push at all.
			logger.Warn().Err(err).Msg("tag refresh failed, using previous tags")
		} else {
			subscribedTags = refreshedTags
		}
	}

	candidates, err := p.store.ListCandidateArticles(ctx, subscription.UserID, now.Add(-p.options.CandidateLookback), limit*candidateFetchMultiplier)
	if err != nil {
		logger.Error().Err(err).Msg("candidate fetch failed")
		return subscriptionOutcome{Failed: 1}
	}
	if len(candidates) == 0 {
		// Leave the window unconsumed so a later run inside the same
		// window can still push if articles arrive.
		return subscriptionOutcome{Empty: 1}
	}

	ranked := p.scorer.Rank(candidates, scoring.Profile{
		SubscribedTags: subscribedTags,
		Keywords:       subscription.KeywordList(),
	})
	selected := scoring.SelectTopN(ranked, limit)

	push := delivery.Push{
		WindowToken:     window.Token,
		Frequency:       subscription.PushFrequencyType,
		SummaryLanguage: subscription.SummaryLanguage,
		Articles:        make([]delivery.Article, 0, len(selected)),
	}
	for _, item := range selected {
		push.Articles = append(push.Articles, delivery.Article{
			Title:       item.Article.Title,
			Summary:     item.Article.Summary,
			URL:         item.Article.OriginalURL,
			Score:       item.FinalScore,
			PublishedAt: item.Article.PublishedAt,
		})
	}

	results, deliverErr := provider.Deliver(ctx, subscription.DeliveryTarget, push)
	if deliverErr != nil {
		logger.Error().Err(deliverErr).Msg("delivery failed")
	}
	if len(results) == 0 {
		// No delivery was attempted, so the window stays open for the
		// next run.
		return subscriptionOutcome{Failed: 1}
	}

	pushedAt := globaltime.UTC()
	history := make([]db.PushHistory, 0, len(results))
	delivered := 0
	for _, item := range results {
		row := db.PushHistory{
			UserID:    subscription.UserID,
			ArticleID: selected[item.Index].Article.ID,
			PushedAt:  pushedAt,
			Success:   item.Success,
		}
		if item.Error != "" {
			message := item.Error
			row.ErrorMessage = &message
		}
		if item.Success {
			delivered++
		}
		history = append(history, row)
	}
	if err := p.store.InsertPushHistory(ctx, history); err != nil {
		logger.Error().Err(err).Msg("push history insert failed")
	}

	// Delivery was attempted, so the window is consumed even when every
	// item failed: retrying the same window would re-send any items
	// that did go out.
	if err := p.store.CommitPushWindow(ctx, subscription.UserID, subscription.LastPushWindow, window.Token, pushedAt); err != nil {
		if errors.Is(err, db.ErrConflict) {
			// Another run claimed this window first. The articles
			// went out, so record the conflict and move on.
			logger.Warn().Str("window", window.Token).Msg("push window already consumed by a concurrent run")
			return subscriptionOutcome{Conflicts: 1, Articles: delivered}
		}
		logger.Error().Err(err).Msg("window commit failed")
		return subscriptionOutcome{Failed: 1, Articles: delivered}
	}

	if deliverErr != nil || delivered == 0 {
		return subscriptionOutcome{Failed: 1, Articles: delivered}
	}

	logger.Info().
		Str("window", window.Token).
		Int("articles", delivered).
		Str("platform", subscription.DeliveryPlatform).
		Msg("push delivered")
	return subscriptionOutcome{Pushed: 1, Articles: delivered}
}

// refreshTags recomputes the subscription's derived tags from its
// keywords and persists them together with the new focus score.
func (p *SmartPusher) refreshTags(ctx context.Context, mapper *topics.Mapper, subscription *db.Subscription) ([]string, error) {
	keywords := subscription.KeywordList()
	analysis := p.clusterer.Analyze(ctx, keywords)
	mapped := mapper.Map(keywords)

	input := db.UpdateSubscriptionTagsInput{
		UserID:           subscription.UserID,
		SubscribedTags:   mapped.Topics,
		FocusScore:       analysis.FocusScore,
		ClusteringMethod: analysis.Method,
		TagsUpdatedAt:    globaltime.UTC(),
	}
	if err := p.store.UpdateSubscriptionTags(ctx, input); err != nil {
		return nil, err
	}
	subscription.TagsUpdatedAt = input.TagsUpdatedAt
	return mapped.Topics, nil
}
