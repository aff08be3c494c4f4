package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ListCandidateArticles returns articles published after `since` that
// have not already been pushed to the user, newest first. The limit
// bounds the scoring pass, not the final selection.
func ListCandidateArticles(
	ctx context.Context,
	pool *Pool,
	userID string,
	since time.Time,
	limit int,
) ([]NewsArticle, error) {
	if limit <= 0 {
		limit = 50
	}

	const q = `
SELECT
	a.id,
	a.original_url,
	a.title,
	a.summary,
	a.tags,
	a.published_at
FROM news_articles a
WHERE a.published_at > $2
  AND NOT EXISTS (
	SELECT 1
	FROM push_history ph
	WHERE ph.user_id = $1::uuid
	  AND ph.article_id = a.id
	  AND ph.success = TRUE
)
ORDER BY a.published_at DESC, a.id DESC
LIMIT $3
`

	rows, err := pool.Query(ctx, q, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query candidate articles user_id=%s: %w", userID, err)
	}
	defer rows.Close()

	articles := make([]NewsArticle, 0, limit)
	for rows.Next() {
		var (
			article NewsArticle
			tags    []byte
		)
		if err := rows.Scan(
			&article.ID,
			&article.OriginalURL,
			&article.Title,
			&article.Summary,
			&tags,
			&article.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan candidate article row: %w", err)
		}
		article.Tags = json.RawMessage(tags)
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate articles: %w", err)
	}
	return articles, nil
}

// InsertPushHistory records one delivery attempt per article.
func InsertPushHistory(ctx context.Context, pool *Pool, rows []PushHistory) error {
	if len(rows) == 0 {
		return nil
	}

	const q = `
INSERT INTO push_history (user_id, article_id, pushed_at, success, error_message)
VALUES ($1::uuid, $2, $3, $4, $5)
`

	for _, row := range rows {
		if _, err := pool.Exec(ctx, q, row.UserID, row.ArticleID, row.PushedAt, row.Success, row.ErrorMessage); err != nil {
			return fmt.Errorf("insert push history user_id=%s article_id=%d: %w", row.UserID, row.ArticleID, err)
		}
	}
	return nil
}
