package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/YCLstock/finnews-bot/internal/globaltime"
	"github.com/YCLstock/finnews-bot/internal/schedule"
	"github.com/YCLstock/finnews-bot/internal/topics"
)

const maxPreviewKeywords = 20

type topicListItem struct {
	Code     string `json:"code"`
	NameZH   string `json:"name_zh"`
	NameEN   string `json:"name_en,omitempty"`
	Priority int    `json:"priority"`
}

type topicPreviewResponse struct {
	Topics       []string              `json:"topics"`
	Scores       map[string]float64    `json:"scores"`
	Matched      map[string][]string   `json:"matched"`
	UsedFallback bool                  `json:"used_fallback"`
	Details      []topics.KeywordMatch `json:"details"`
}

type schedulePreviewResponse struct {
	Frequency        string   `json:"frequency"`
	Anchors          []string `json:"anchors"`
	ToleranceMinutes int      `json:"tolerance_minutes"`
	MaxArticles      int      `json:"max_articles"`
	NextWindow       string   `json:"next_window"`
	InWindow         bool     `json:"in_window"`
}

func (s *Server) handleTopicList(c echo.Context) error {
	vocab := s.mapper.Vocabulary()
	items := make([]topicListItem, 0)
	for _, topic := range vocab.Topics() {
		items = append(items, topicListItem{
			Code:     topic.Code,
			NameZH:   topic.NameZH,
			NameEN:   topic.NameEN,
			Priority: topic.Priority,
		})
	}
	return success(c, map[string]any{
		"version": vocab.Version,
		"topics":  items,
	})
}

// handleTopicPreview shows how a keyword set would resolve to canonical
// topics, per keyword, without touching any subscription.
func (s *Server) handleTopicPreview(c echo.Context) error {
	keywords, err := parseKeywordsParam(c.QueryParam("keywords"))
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}

	result := s.mapper.Map(keywords)
	return success(c, topicPreviewResponse{
		Topics:       result.Topics,
		Scores:       result.Scores,
		Matched:      result.Matched,
		UsedFallback: result.UsedFallback,
		Details:      s.mapper.Explain(keywords),
	})
}

// handleClusteringPreview runs the clustering analysis on an arbitrary
// keyword set so users can see their focus score and refinement
// suggestions before saving.
func (s *Server) handleClusteringPreview(c echo.Context) error {
	keywords, err := parseKeywordsParam(c.QueryParam("keywords"))
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	if s.clusterer == nil {
		return internalError(c, "clustering is not configured")
	}
	return success(c, s.clusterer.Analyze(c.Request().Context(), keywords))
}

func (s *Server) handleSchedulePreview(c echo.Context) error {
	frequency := strings.TrimSpace(c.QueryParam("frequency"))
	if frequency == "" {
		frequency = schedule.FrequencyDaily
	}

	anchors, err := schedule.Anchors(frequency)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	maxArticles, err := schedule.MaxArticles(frequency)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}

	now := globaltime.UTC()
	next, err := s.scheduler.NextWindow(frequency, now)
	if err != nil {
		return internalError(c, err.Error())
	}
	_, inWindow, err := s.scheduler.CurrentWindow(frequency, now)
	if err != nil {
		return internalError(c, err.Error())
	}

	return success(c, schedulePreviewResponse{
		Frequency:        frequency,
		Anchors:          anchors,
		ToleranceMinutes: int(s.scheduler.Tolerance().Minutes()),
		MaxArticles:      maxArticles,
		NextWindow:       next.Token,
		InWindow:         inWindow,
	})
}

func parseKeywordsParam(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	keywords := make([]string, 0, len(parts))
	for _, part := range parts {
		keyword := strings.TrimSpace(part)
		if keyword == "" {
			continue
		}
		keywords = append(keywords, keyword)
	}
	if len(keywords) == 0 {
		return nil, errors.New("keywords query parameter is required")
	}
	if len(keywords) > maxPreviewKeywords {
		keywords = keywords[:maxPreviewKeywords]
	}
	return keywords, nil
}
