package topics

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/YCLstock/finnews-bot/internal/db"
)

//go:embed vocabulary.schema.json
var vocabularySchemaJSON string

//go:embed vocabulary.json
var builtinVocabularyJSON []byte

var ErrEmptyVocabulary = errors.New("topic vocabulary is empty")

const (
	MatchMethodExact     = "exact"
	MatchMethodSubstring = "substring"

	// DefaultMaxTopics caps how many canonical topics one keyword set
	// can subscribe to.
	DefaultMaxTopics = 3
)

// Topic is one canonical topic code. Lower priority integers rank
// higher when accumulated scores tie.
type Topic struct {
	Code     string `json:"code"`
	NameZH   string `json:"name_zh"`
	NameEN   string `json:"name_en,omitempty"`
	Priority int    `json:"priority"`
}

// Mapping connects one raw keyword to a topic. Exact entries match on
// case-insensitive equality only; substring entries also match on
// containment in either direction.
type Mapping struct {
	TopicCode   string  `json:"topic_code"`
	Keyword     string  `json:"keyword"`
	Language    string  `json:"language"`
	MatchMethod string  `json:"match_method"`
	Confidence  float64 `json:"confidence"`
}

// Vocabulary is the versioned, read-only canonical topic table shared
// by the mapper, the rule-based clusterer, and the scoring layer. It is
// loaded once per batch and never mutated afterwards.
type Vocabulary struct {
	Version       string
	FallbackTopic string
	MaxTopics     int

	topics   []Topic
	byCode   map[string]Topic
	mappings []Mapping
}

type vocabularyDocument struct {
	Version       string    `json:"version"`
	FallbackTopic string    `json:"fallback_topic"`
	MaxTopics     int       `json:"max_topics,omitempty"`
	Topics        []Topic   `json:"topics"`
	Mappings      []Mapping `json:"mappings"`
}

// LoadBuiltinVocabulary parses the embedded vocabulary document. It is
// the fallback when the tags tables are unreachable or empty.
func LoadBuiltinVocabulary() (*Vocabulary, error) {
	return ParseVocabulary(builtinVocabularyJSON)
}

// ParseVocabulary validates raw JSON against the vocabulary schema and
// builds a Vocabulary from it.
func ParseVocabulary(raw []byte) (*Vocabulary, error) {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("decode vocabulary JSON: %w", err)
	}

	schema, err := jsonschema.CompileString("vocabulary.schema.json", vocabularySchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile vocabulary schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("vocabulary schema validation failed: %w", err)
	}

	var doc vocabularyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal vocabulary document: %w", err)
	}
	return buildVocabulary(doc)
}

// VocabularyFromRows builds a Vocabulary from database tag tables.
func VocabularyFromRows(rows db.VocabularyRows) (*Vocabulary, error) {
	doc := vocabularyDocument{
		Version:       rows.Version,
		FallbackTopic: "LATEST",
		Topics:        make([]Topic, 0, len(rows.Tags)),
		Mappings:      make([]Mapping, 0, len(rows.Mappings)),
	}

	codeByID := make(map[int64]string, len(rows.Tags))
	for _, tag := range rows.Tags {
		code := normalizeTopicCode(tag.TagCode)
		if code == "" {
			continue
		}
		codeByID[tag.ID] = code
		nameEN := ""
		if tag.TagNameEN != nil {
			nameEN = *tag.TagNameEN
		}
		doc.Topics = append(doc.Topics, Topic{
			Code:     code,
			NameZH:   tag.TagNameZH,
			NameEN:   nameEN,
			Priority: tag.Priority,
		})
	}

	for _, mapping := range rows.Mappings {
		code, ok := codeByID[mapping.TagID]
		if !ok {
			continue
		}
		doc.Mappings = append(doc.Mappings, Mapping{
			TopicCode:   code,
			Keyword:     mapping.Keyword,
			Language:    mapping.Language,
			MatchMethod: mapping.MatchMethod,
			Confidence:  mapping.Confidence,
		})
	}

	return buildVocabulary(doc)
}

func buildVocabulary(doc vocabularyDocument) (*Vocabulary, error) {
	if len(doc.Topics) == 0 {
		return nil, ErrEmptyVocabulary
	}

	vocab := &Vocabulary{
		Version:       strings.TrimSpace(doc.Version),
		FallbackTopic: normalizeTopicCode(doc.FallbackTopic),
		MaxTopics:     doc.MaxTopics,
		byCode:        make(map[string]Topic, len(doc.Topics)),
	}
	if vocab.MaxTopics <= 0 {
		vocab.MaxTopics = DefaultMaxTopics
	}

	for _, topic := range doc.Topics {
		topic.Code = normalizeTopicCode(topic.Code)
		if topic.Code == "" {
			continue
		}
		if _, exists := vocab.byCode[topic.Code]; exists {
			return nil, fmt.Errorf("duplicate topic code %q", topic.Code)
		}
		vocab.byCode[topic.Code] = topic
		vocab.topics = append(vocab.topics, topic)
	}
	if len(vocab.topics) == 0 {
		return nil, ErrEmptyVocabulary
	}

	if vocab.FallbackTopic == "" {
		vocab.FallbackTopic = vocab.topics[len(vocab.topics)-1].Code
	}
	if _, exists := vocab.byCode[vocab.FallbackTopic]; !exists {
		return nil, fmt.Errorf("fallback topic %q is not in the vocabulary", vocab.FallbackTopic)
	}

	for _, mapping := range doc.Mappings {
		mapping.TopicCode = normalizeTopicCode(mapping.TopicCode)
		mapping.Keyword = strings.TrimSpace(mapping.Keyword)
		mapping.MatchMethod = strings.ToLower(strings.TrimSpace(mapping.MatchMethod))
		if mapping.Keyword == "" {
			continue
		}
		if _, exists := vocab.byCode[mapping.TopicCode]; !exists {
			return nil, fmt.Errorf("mapping keyword %q references unknown topic %q", mapping.Keyword, mapping.TopicCode)
		}
		switch mapping.MatchMethod {
		case MatchMethodExact, MatchMethodSubstring:
		default:
			return nil, fmt.Errorf("mapping keyword %q has unknown match method %q", mapping.Keyword, mapping.MatchMethod)
		}
		if mapping.Confidence <= 0 {
			mapping.Confidence = 1
		}
		vocab.mappings = append(vocab.mappings, mapping)
	}

	// Stable mapping order regardless of source (JSON file or DB scan).
	sort.SliceStable(vocab.mappings, func(i, j int) bool {
		if vocab.mappings[i].TopicCode != vocab.mappings[j].TopicCode {
			return vocab.mappings[i].TopicCode < vocab.mappings[j].TopicCode
		}
		return vocab.mappings[i].Keyword < vocab.mappings[j].Keyword
	})

	return vocab, nil
}

// Topics returns the topic list ordered by priority.
func (v *Vocabulary) Topics() []Topic {
	out := make([]Topic, len(v.topics))
	copy(out, v.topics)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func (v *Vocabulary) Topic(code string) (Topic, bool) {
	topic, ok := v.byCode[normalizeTopicCode(code)]
	return topic, ok
}

func (v *Vocabulary) Mappings() []Mapping {
	out := make([]Mapping, len(v.mappings))
	copy(out, v.mappings)
	return out
}

func normalizeTopicCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func decodeStrictJSON(raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := ensureSingleJSONDocument(decoder); err != nil {
		return nil, err
	}
	return value, nil
}

func ensureSingleJSONDocument(decoder *json.Decoder) error {
	if _, err := decoder.Token(); err != io.EOF {
		return fmt.Errorf("payload contains trailing data")
	}
	return nil
}
