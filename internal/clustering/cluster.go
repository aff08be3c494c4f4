package clustering

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/YCLstock/finnews-bot/internal/topics"
)

// Clustering method recorded on the subscription so readers know how
// the focus score was produced.
const (
	MethodEmbedding = "embedding"
	MethodRuleBased = "rule_based"
)

const (
	DefaultMinClusterSize      = 2
	DefaultSimilarityThreshold = 0.7
	DefaultFocusThreshold      = 0.6

	// maxKeepKeywords caps refinement suggestions so the advice stays
	// actionable.
	maxKeepKeywords = 5
)

type Config struct {
	MinClusterSize      int
	SimilarityThreshold float64
	FocusThreshold      float64
}

// Analysis is the outcome of clustering one subscription's keyword set.
type Analysis struct {
	Method     string     `json:"method"`
	Clusters   [][]string `json:"clusters"`
	Noise      []string   `json:"noise"`
	FocusScore float64    `json:"focus_score"`
	Focused    bool       `json:"focused"`

	// KeepKeywords and DropKeywords are refinement suggestions,
	// populated only when the set is unfocused.
	KeepKeywords []string `json:"keep_keywords,omitempty"`
	DropKeywords []string `json:"drop_keywords,omitempty"`
}

// Clusterer groups a subscription's keywords into thematic clusters and
// scores how focused the set is. The embedding path is preferred; any
// embedding failure degrades to the rule-based path instead of failing
// the subscription.
type Clusterer struct {
	embedder *Embedder
	mapper   *topics.Mapper
	config   Config
	logger   zerolog.Logger
}

func NewClusterer(embedder *Embedder, mapper *topics.Mapper, config Config, logger zerolog.Logger) *Clusterer {
	normalized := config
	if normalized.MinClusterSize <= 0 {
		normalized.MinClusterSize = DefaultMinClusterSize
	}
	if normalized.SimilarityThreshold <= 0 || normalized.SimilarityThreshold >= 1 {
		normalized.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if normalized.FocusThreshold <= 0 || normalized.FocusThreshold >= 1 {
		normalized.FocusThreshold = DefaultFocusThreshold
	}
	return &Clusterer{
		embedder: embedder,
		mapper:   mapper,
		config:   normalized,
		logger:   logger,
	}
}

// Analyze clusters the keyword set and computes its focus score.
func (c *Clusterer) Analyze(ctx context.Context, keywords []string) Analysis {
	cleaned := dedupeKeywords(keywords)
	if len(cleaned) == 0 {
		return Analysis{Method: MethodRuleBased, Clusters: [][]string{}, Noise: []string{}}
	}
	// Too few keywords for density clustering to say anything.
	if len(cleaned) < c.config.MinClusterSize {
		return c.finish(c.analyzeRuleBased(cleaned))
	}

	if analysis, ok := c.analyzeEmbedding(ctx, cleaned); ok {
		return c.finish(analysis)
	}
	return c.finish(c.analyzeRuleBased(cleaned))
}

func (c *Clusterer) analyzeEmbedding(ctx context.Context, keywords []string) (Analysis, bool) {
	if c.embedder == nil || !c.embedder.Configured() {
		return Analysis{}, false
	}

	vectors, err := c.embedder.Embed(ctx, keywords)
	if err != nil {
		c.logger.Warn().Err(err).Int("keywords", len(keywords)).
			Msg("embedding unavailable, degrading to rule-based clustering")
		return Analysis{}, false
	}

	similarity := similarityMatrix(vectors)
	eps := 1 - c.config.SimilarityThreshold
	labels := dbscan(similarity, eps, c.config.MinClusterSize)

	clusterCount := 0
	for _, label := range labels {
		if label >= clusterCount {
			clusterCount = label + 1
		}
	}

	clusters := make([][]string, clusterCount)
	noise := make([]string, 0)
	for i, label := range labels {
		if label < 0 {
			noise = append(noise, keywords[i])
			continue
		}
		clusters[label] = append(clusters[label], keywords[i])
	}

	return Analysis{
		Method:       MethodEmbedding,
		Clusters:     clusters,
		Noise:        noise,
		FocusScore:   focusScore(similarity, labels, len(keywords)),
		KeepKeywords: c.keepSuggestion(similarity, labels, keywords),
	}, true
}

// keepSuggestion picks the dominant cluster and folds in any smaller
// cluster whose members are, on average, as similar to the dominant one
// as the clustering threshold demands. At most maxKeepKeywords survive.
func (c *Clusterer) keepSuggestion(similarity [][]float64, labels []int, keywords []string) []string {
	sizes := make(map[int]int)
	for _, label := range labels {
		if label >= 0 {
			sizes[label]++
		}
	}
	if len(sizes) == 0 {
		return nil
	}

	dominant := 0
	for label, size := range sizes {
		if size > sizes[dominant] || (size == sizes[dominant] && label < dominant) {
			dominant = label
		}
	}

	merged := map[int]bool{dominant: true}
	for label := range sizes {
		if label == dominant {
			continue
		}
		var sum float64
		var count int
		for i, li := range labels {
			if li != label {
				continue
			}
			for j, lj := range labels {
				if lj != dominant {
					continue
				}
				sum += similarity[i][j]
				count++
			}
		}
		if count > 0 && sum/float64(count) >= c.config.SimilarityThreshold {
			merged[label] = true
		}
	}

	keep := make([]string, 0, maxKeepKeywords)
	for i, label := range labels {
		if label >= 0 && merged[label] {
			keep = append(keep, keywords[i])
			if len(keep) == maxKeepKeywords {
				break
			}
		}
	}
	return keep
}

// analyzeRuleBased groups keywords by the topic each one maps to.
// Keywords that match nothing in the vocabulary are noise. Intra-cluster
// similarity is taken as 1: sharing a canonical topic is the strongest
// signal the rule path can express.
func (c *Clusterer) analyzeRuleBased(keywords []string) Analysis {
	groups := make(map[string][]string)
	noise := make([]string, 0)
	for _, keyword := range keywords {
		code, _, ok := c.mapper.MatchTopic(keyword)
		if !ok {
			noise = append(noise, keyword)
			continue
		}
		groups[code] = append(groups[code], keyword)
	}

	codes := make([]string, 0, len(groups))
	for code := range groups {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	clusters := make([][]string, 0, len(groups))
	largest := 0
	for _, code := range codes {
		clusters = append(clusters, groups[code])
		if len(groups[code]) > largest {
			largest = len(groups[code])
		}
	}

	total := len(keywords)
	score := 0.0
	if len(clusters) > 0 {
		largestRatio := float64(largest) / float64(total)
		noiseRatio := float64(len(noise)) / float64(total)
		score = clamp01(0.5 + 0.5*largestRatio - 0.25*noiseRatio)
	}

	return Analysis{
		Method:     MethodRuleBased,
		Clusters:   clusters,
		Noise:      noise,
		FocusScore: score,
	}
}

func (c *Clusterer) finish(analysis Analysis) Analysis {
	analysis.FocusScore = round4(analysis.FocusScore)
	analysis.Focused = analysis.FocusScore >= c.config.FocusThreshold
	if analysis.Focused {
		// Focused sets need no refinement advice.
		analysis.KeepKeywords = nil
		return analysis
	}

	// Unfocused sets get concrete advice: keep the dominant theme,
	// reconsider everything that clustered nowhere.
	if analysis.KeepKeywords == nil {
		var largest []string
		for _, cluster := range analysis.Clusters {
			if len(cluster) > len(largest) {
				largest = cluster
			}
		}
		if len(largest) > maxKeepKeywords {
			largest = largest[:maxKeepKeywords]
		}
		analysis.KeepKeywords = largest
	}
	analysis.DropKeywords = analysis.Noise
	return analysis
}

// dbscan labels each point with a cluster index, or -1 for noise.
// Distance is 1 minus cosine similarity. Points are visited in input
// order so results are deterministic.
func dbscan(similarity [][]float64, eps float64, minPts int) []int {
	n := len(similarity)
	const (
		unvisited = -2
		noise     = -1
	)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	neighborsOf := func(p int) []int {
		neighbors := make([]int, 0, n)
		for q := 0; q < n; q++ {
			if 1-similarity[p][q] <= eps {
				neighbors = append(neighbors, q)
			}
		}
		return neighbors
	}

	cluster := 0
	for p := 0; p < n; p++ {
		if labels[p] != unvisited {
			continue
		}
		neighbors := neighborsOf(p)
		if len(neighbors) < minPts {
			labels[p] = noise
			continue
		}

		labels[p] = cluster
		queue := append([]int(nil), neighbors...)
		for len(queue) > 0 {
			q := queue[0]
			queue = queue[1:]
			if labels[q] == noise {
				labels[q] = cluster
			}
			if labels[q] != unvisited {
				continue
			}
			labels[q] = cluster
			qNeighbors := neighborsOf(q)
			if len(qNeighbors) >= minPts {
				queue = append(queue, qNeighbors...)
			}
		}
		cluster++
	}

	for i := range labels {
		if labels[i] == unvisited {
			labels[i] = noise
		}
	}
	return labels
}

// focusScore blends mean intra-cluster similarity, the weight of the
// dominant cluster, and a noise penalty into a 0..1 score.
func focusScore(similarity [][]float64, labels []int, total int) float64 {
	if total == 0 {
		return 0
	}

	var (
		simSum   float64
		simCount int
	)
	clusterSizes := make(map[int]int)
	noiseCount := 0
	for i, label := range labels {
		if label < 0 {
			noiseCount++
			continue
		}
		clusterSizes[label]++
		for j := i + 1; j < len(labels); j++ {
			if labels[j] == label {
				simSum += similarity[i][j]
				simCount++
			}
		}
	}

	if len(clusterSizes) == 0 {
		return 0
	}

	meanIntra := 1.0
	if simCount > 0 {
		meanIntra = simSum / float64(simCount)
	}
	largest := 0
	for _, size := range clusterSizes {
		if size > largest {
			largest = size
		}
	}
	largestRatio := float64(largest) / float64(total)
	noiseRatio := float64(noiseCount) / float64(total)

	return clamp01(0.5*meanIntra + 0.5*largestRatio - 0.25*noiseRatio)
}

func similarityMatrix(vectors [][]float64) [][]float64 {
	n := len(vectors)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
		matrix[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim := cosineSimilarity(vectors[i], vectors[j])
			matrix[i][j] = sim
			matrix[j][i] = sim
		}
	}
	return matrix
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func dedupeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, raw := range keywords {
		keyword := strings.TrimSpace(raw)
		if keyword == "" {
			continue
		}
		lowered := strings.ToLower(keyword)
		if _, ok := seen[lowered]; ok {
			continue
		}
		seen[lowered] = struct{}{}
		out = append(out, keyword)
	}
	return out
}

func clamp01(value float64) float64 {
	return math.Max(0, math.Min(1, value))
}

func round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}
