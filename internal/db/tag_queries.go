package db

import (
	"context"
	"fmt"
	"time"
)

// VocabularyRows is the raw material for a topics.Vocabulary: the
// active canonical tags, their keyword mappings, and a version string
// derived from the newest row so reloads can be detected.
type VocabularyRows struct {
	Tags     []Tag
	Mappings []KeywordMapping
	Version  string
}

func LoadVocabularyRows(ctx context.Context, pool *Pool) (VocabularyRows, error) {
	tags, err := listActiveTags(ctx, pool)
	if err != nil {
		return VocabularyRows{}, err
	}
	mappings, err := listActiveKeywordMappings(ctx, pool)
	if err != nil {
		return VocabularyRows{}, err
	}

	var newest time.Time
	for _, tag := range tags {
		if tag.UpdatedAt.After(newest) {
			newest = tag.UpdatedAt
		}
	}
	for _, mapping := range mappings {
		if mapping.UpdatedAt.After(newest) {
			newest = mapping.UpdatedAt
		}
	}

	return VocabularyRows{
		Tags:     tags,
		Mappings: mappings,
		Version:  fmt.Sprintf("db-%d-%d-%d", len(tags), len(mappings), newest.UTC().Unix()),
	}, nil
}

func listActiveTags(ctx context.Context, pool *Pool) ([]Tag, error) {
	const q = `
SELECT id, tag_code, tag_name_zh, tag_name_en, priority, is_active, updated_at
FROM tags
WHERE is_active = TRUE
ORDER BY priority, id
`

	rows, err := pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query active tags: %w", err)
	}
	defer rows.Close()

	tags := make([]Tag, 0, 32)
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(
			&tag.ID,
			&tag.TagCode,
			&tag.TagNameZH,
			&tag.TagNameEN,
			&tag.Priority,
			&tag.IsActive,
			&tag.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tag row: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return tags, nil
}

func listActiveKeywordMappings(ctx context.Context, pool *Pool) ([]KeywordMapping, error) {
	const q = `
SELECT m.id, m.tag_id, m.keyword, m.language, m.match_method, m.confidence, m.is_active, m.updated_at
FROM keyword_mappings m
JOIN tags t ON t.id = m.tag_id AND t.is_active = TRUE
WHERE m.is_active = TRUE
ORDER BY m.tag_id, m.id
`

	rows, err := pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query keyword mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]KeywordMapping, 0, 128)
	for rows.Next() {
		var mapping KeywordMapping
		if err := rows.Scan(
			&mapping.ID,
			&mapping.TagID,
			&mapping.Keyword,
			&mapping.Language,
			&mapping.MatchMethod,
			&mapping.Confidence,
			&mapping.IsActive,
			&mapping.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan keyword mapping row: %w", err)
		}
		mappings = append(mappings, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keyword mappings: %w", err)
	}
	return mappings, nil
}
