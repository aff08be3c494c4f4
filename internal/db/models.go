package db

import (
	"encoding/json"
	"time"
)

// Subscription maps public.subscriptions. Keywords and SubscribedTags are
// stored as jsonb string arrays; use the typed accessors when reading.
type Subscription struct {
	UserID            string          `gorm:"column:user_id;type:uuid;primaryKey"`
	DeliveryPlatform  string          `gorm:"column:delivery_platform;type:text;not null;default:discord"`
	DeliveryTarget    string          `gorm:"column:delivery_target;type:text;not null"`
	Keywords          json.RawMessage `gorm:"column:keywords;type:jsonb;not null;default:'[]'"`
	SubscribedTags    json.RawMessage `gorm:"column:subscribed_tags;type:jsonb;not null;default:'[]'"`
	FocusScore        float64         `gorm:"column:focus_score;type:double precision;not null;default:0"`
	ClusteringMethod  string          `gorm:"column:clustering_method;type:text;not null;default:rule_based"`
	PushFrequencyType string          `gorm:"column:push_frequency_type;type:text;not null;default:daily"`
	SummaryLanguage   string          `gorm:"column:summary_language;type:text;not null;default:zh-tw"`
	LastPushWindow    *string         `gorm:"column:last_push_window;type:text"`
	LastPushedAt      *time.Time      `gorm:"column:last_pushed_at;type:timestamptz"`
	KeywordsUpdatedAt time.Time       `gorm:"column:keywords_updated_at;type:timestamptz;not null;default:now()"`
	TagsUpdatedAt     time.Time       `gorm:"column:tags_updated_at;type:timestamptz;not null;default:now()"`
	IsActive          bool            `gorm:"column:is_active;type:boolean;not null;default:true"`
	CreatedAt         time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Subscription) TableName() string { return "subscriptions" }

func (s *Subscription) KeywordList() []string      { return decodeStringList(s.Keywords) }
func (s *Subscription) SubscribedTagList() []string { return decodeStringList(s.SubscribedTags) }

// TagsStale reports whether derived tags lag behind keyword edits.
func (s *Subscription) TagsStale() bool {
	return s.KeywordsUpdatedAt.After(s.TagsUpdatedAt)
}

// NewsArticle maps public.news_articles. Rows are written once by the
// ingestion pipeline and treated as immutable here.
type NewsArticle struct {
	ID          int64           `gorm:"column:id;primaryKey;autoIncrement"`
	OriginalURL string          `gorm:"column:original_url;type:text;not null;unique"`
	Title       string          `gorm:"column:title;type:text;not null"`
	Summary     string          `gorm:"column:summary;type:text;not null;default:''"`
	Tags        json.RawMessage `gorm:"column:tags;type:jsonb;not null;default:'[]'"`
	PublishedAt time.Time       `gorm:"column:published_at;type:timestamptz;not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (NewsArticle) TableName() string { return "news_articles" }

func (a *NewsArticle) TagList() []string { return decodeStringList(a.Tags) }

// Tag maps public.tags — one row per canonical topic code.
type Tag struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TagCode   string    `gorm:"column:tag_code;type:text;not null;unique"`
	TagNameZH string    `gorm:"column:tag_name_zh;type:text;not null"`
	TagNameEN *string   `gorm:"column:tag_name_en;type:text"`
	Priority  int       `gorm:"column:priority;type:integer;not null;default:10"`
	IsActive  bool      `gorm:"column:is_active;type:boolean;not null;default:true"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Tag) TableName() string { return "tags" }

// KeywordMapping maps public.keyword_mappings — vocabulary entries that
// connect raw keywords to canonical topics.
type KeywordMapping struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TagID       int64     `gorm:"column:tag_id;type:bigint;not null;index"`
	Keyword     string    `gorm:"column:keyword;type:text;not null"`
	Language    string    `gorm:"column:language;type:text;not null;default:und"`
	MatchMethod string    `gorm:"column:match_method;type:text;not null;default:exact"`
	Confidence  float64   `gorm:"column:confidence;type:double precision;not null;default:1"`
	IsActive    bool      `gorm:"column:is_active;type:boolean;not null;default:true"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (KeywordMapping) TableName() string { return "keyword_mappings" }

// PushHistory maps public.push_history — one row per delivery attempt.
type PushHistory struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID       string    `gorm:"column:user_id;type:uuid;not null;index"`
	ArticleID    int64     `gorm:"column:article_id;type:bigint;not null"`
	PushedAt     time.Time `gorm:"column:pushed_at;type:timestamptz;not null;default:now()"`
	Success      bool      `gorm:"column:success;type:boolean;not null;default:true"`
	ErrorMessage *string   `gorm:"column:error_message;type:text"`
}

func (PushHistory) TableName() string { return "push_history" }

func decodeStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}

func encodeStringList(values []string) json.RawMessage {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return json.RawMessage("[]")
	}
	return raw
}
