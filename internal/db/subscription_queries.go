package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ListActiveSubscriptions returns every active subscription ordered by
// user_id so batch runs process users in a stable order.
func ListActiveSubscriptions(ctx context.Context, pool *Pool) ([]Subscription, error) {
	const q = `
SELECT
	s.user_id::text,
	s.delivery_platform,
	s.delivery_target,
	s.keywords,
	s.subscribed_tags,
	s.focus_score,
	s.clustering_method,
	s.push_frequency_type,
	s.summary_language,
	s.last_push_window,
	s.last_pushed_at,
	s.keywords_updated_at,
	s.tags_updated_at,
	s.is_active
FROM subscriptions s
WHERE s.is_active = TRUE
ORDER BY s.user_id
`

	rows, err := pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query active subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]Subscription, 0, 64)
	for rows.Next() {
		var (
			sub      Subscription
			keywords []byte
			tags     []byte
		)
		if err := rows.Scan(
			&sub.UserID,
			&sub.DeliveryPlatform,
			&sub.DeliveryTarget,
			&keywords,
			&tags,
			&sub.FocusScore,
			&sub.ClusteringMethod,
			&sub.PushFrequencyType,
			&sub.SummaryLanguage,
			&sub.LastPushWindow,
			&sub.LastPushedAt,
			&sub.KeywordsUpdatedAt,
			&sub.TagsUpdatedAt,
			&sub.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan subscription row: %w", err)
		}
		sub.Keywords = json.RawMessage(keywords)
		sub.SubscribedTags = json.RawMessage(tags)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

// ListStaleSubscriptions returns active subscriptions whose keywords
// changed after their tags were last derived.
func ListStaleSubscriptions(ctx context.Context, pool *Pool) ([]Subscription, error) {
	subs, err := ListActiveSubscriptions(ctx, pool)
	if err != nil {
		return nil, err
	}
	stale := subs[:0]
	for _, sub := range subs {
		if sub.TagsStale() {
			stale = append(stale, sub)
		}
	}
	return stale, nil
}

// UpdateSubscriptionTagsInput carries the derived interest profile
// persisted after a clustering pass.
type UpdateSubscriptionTagsInput struct {
	UserID           string
	SubscribedTags   []string
	FocusScore       float64
	ClusteringMethod string
	TagsUpdatedAt    time.Time
}

func UpdateSubscriptionTags(ctx context.Context, pool *Pool, input UpdateSubscriptionTagsInput) error {
	const q = `
UPDATE subscriptions
SET
	subscribed_tags = $2::jsonb,
	focus_score = $3,
	clustering_method = $4,
	tags_updated_at = $5,
	updated_at = now()
WHERE user_id = $1::uuid
`

	tag, err := pool.Exec(
		ctx,
		q,
		input.UserID,
		string(encodeStringList(input.SubscribedTags)),
		input.FocusScore,
		input.ClusteringMethod,
		input.TagsUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription tags user_id=%s: %w", input.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update subscription tags user_id=%s: %w", input.UserID, ErrNoRows)
	}
	return nil
}

// ErrConflict marks a lost optimistic-concurrency race: another run
// consumed the same push window first. Benign for callers.
var ErrConflict = errors.New("push window already consumed")

// CommitPushWindow records window consumption with optimistic
// concurrency: the write applies only when last_push_window still holds
// the value the caller read. Returns ErrConflict when another run got
// there first.
func CommitPushWindow(
	ctx context.Context,
	pool *Pool,
	userID string,
	expectedPriorWindow *string,
	newWindow string,
	pushedAt time.Time,
) error {
	const q = `
UPDATE subscriptions
SET
	last_push_window = $2,
	last_pushed_at = $3,
	updated_at = now()
WHERE user_id = $1::uuid
  AND last_push_window IS NOT DISTINCT FROM $4
`

	tag, err := pool.Exec(ctx, q, userID, newWindow, pushedAt, expectedPriorWindow)
	if err != nil {
		return fmt.Errorf("commit push window user_id=%s window=%s: %w", userID, newWindow, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("commit push window user_id=%s window=%s: %w", userID, newWindow, ErrConflict)
	}
	return nil
}
