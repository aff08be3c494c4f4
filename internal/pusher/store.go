package pusher

import (
	"context"
	"time"

	"github.com/YCLstock/finnews-bot/internal/db"
)

// Store is the persistence surface the pusher needs. The production
// implementation delegates to the db package; tests substitute fakes.
type Store interface {
	ListActiveSubscriptions(ctx context.Context) ([]db.Subscription, error)
	ListStaleSubscriptions(ctx context.Context) ([]db.Subscription, error)
	ListCandidateArticles(ctx context.Context, userID string, since time.Time, limit int) ([]db.NewsArticle, error)
	UpdateSubscriptionTags(ctx context.Context, input db.UpdateSubscriptionTagsInput) error
	CommitPushWindow(ctx context.Context, userID string, expectedPriorWindow *string, newWindow string, pushedAt time.Time) error
	InsertPushHistory(ctx context.Context, rows []db.PushHistory) error
	LoadVocabularyRows(ctx context.Context) (db.VocabularyRows, error)
}

type sqlStore struct {
	pool *db.Pool
}

// NewStore wraps a database pool in the Store interface.
func NewStore(pool *db.Pool) Store {
	return &sqlStore{pool: pool}
}

func (s *sqlStore) ListActiveSubscriptions(ctx context.Context) ([]db.Subscription, error) {
	return db.ListActiveSubscriptions(ctx, s.pool)
}

func (s *sqlStore) ListStaleSubscriptions(ctx context.Context) ([]db.Subscription, error) {
	return db.ListStaleSubscriptions(ctx, s.pool)
}

func (s *sqlStore) ListCandidateArticles(ctx context.Context, userID string, since time.Time, limit int) ([]db.NewsArticle, error) {
	return db.ListCandidateArticles(ctx, s.pool, userID, since, limit)
}

func (s *sqlStore) UpdateSubscriptionTags(ctx context.Context, input db.UpdateSubscriptionTagsInput) error {
	return db.UpdateSubscriptionTags(ctx, s.pool, input)
}

func (s *sqlStore) CommitPushWindow(ctx context.Context, userID string, expectedPriorWindow *string, newWindow string, pushedAt time.Time) error {
	return db.CommitPushWindow(ctx, s.pool, userID, expectedPriorWindow, newWindow, pushedAt)
}

func (s *sqlStore) InsertPushHistory(ctx context.Context, rows []db.PushHistory) error {
	return db.InsertPushHistory(ctx, s.pool, rows)
}

func (s *sqlStore) LoadVocabularyRows(ctx context.Context) (db.VocabularyRows, error) {
	return db.LoadVocabularyRows(ctx, s.pool)
}
