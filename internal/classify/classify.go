// Package classify labels submission content with a topic domain and, for
// political content, a bias rating.
//
// The primary path is a schema-constrained model call at temperature 0; a
// keyword heuristic serves as the fallback and marks itself as such with a
// reduced confidence ceiling.
package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/verity-ai/verity/internal/llm"
)

// Topic is the closed content-domain set.
type Topic string

const (
	TopicPolitics    Topic = "politics"
	TopicHealth      Topic = "health"
	TopicScience     Topic = "science"
	TopicFinance     Topic = "finance"
	TopicEnvironment Topic = "environment"
	TopicTechnology  Topic = "technology"
	TopicGeneral     Topic = "general"
)

// Bias is the political-lean set. Non-empty only when topic is politics.
type Bias string

const (
	BiasLeft        Bias = "Left"
	BiasCenterLeft  Bias = "Center-left"
	BiasCenter      Bias = "Center"
	BiasCenterRight Bias = "Center-right"
	BiasRight       Bias = "Right"
)

// fallbackMaxConfidence caps heuristic classifications.
const fallbackMaxConfidence = 0.45

// Result is the classification outcome.
type Result struct {
	Topic        Topic   `json:"topic"`
	Bias         Bias    `json:"bias,omitempty"`
	Confidence   float64 `json:"confidence"`
	Rationale    string  `json:"rationale,omitempty"`
	Model        string  `json:"model"`
	FallbackUsed bool    `json:"fallback_used"`
}

// Classifier labels content domains.
type Classifier struct {
	provider llm.Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a classifier.
func New(provider llm.Provider, timeout time.Duration, logger *slog.Logger) *Classifier {
	return &Classifier{provider: provider, timeout: timeout, logger: logger}
}

var classifySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"topic": {"type": "string", "enum": ["politics", "health", "science", "finance", "environment", "technology", "general"]},
		"bias": {"type": ["string", "null"], "enum": ["Left", "Center-left", "Center", "Center-right", "Right", null]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"rationale": {"type": "string"}
	},
	"required": ["topic", "confidence", "rationale"],
	"additionalProperties": false
}`)

// Classify labels text with a topic and optional bias. topicHint, when
// present, is passed to the model as a prior but never overrides it.
func (c *Classifier) Classify(ctx context.Context, text, topicHint string) Result {
	if result, ok := c.classifyWithModel(ctx, text, topicHint); ok {
		return result
	}
	return classifyHeuristic(text)
}

func (c *Classifier) classifyWithModel(ctx context.Context, text, topicHint string) (Result, bool) {
	prompt := "Classify the topic of the following content. " +
		"Assign bias only when the topic is politics; otherwise set it to null.\n\n"
	if topicHint != "" {
		prompt += "Submitter's topic hint (may be wrong): " + topicHint + "\n\n"
	}
	prompt += "Content:\n" + truncate(text, 4000)

	raw, err := c.provider.Complete(ctx, llm.Request{
		System:    "You are a content-domain classifier. Answer with JSON only.",
		Prompt:    prompt,
		Schema:    llm.Schema{Name: "topic_classification", Schema: classifySchema},
		MaxTokens: 300,
		Timeout:   c.timeout,
	})
	if err != nil {
		if err != llm.ErrUnavailable {
			c.logger.Warn("classify: model call failed, using heuristic", "error", err)
		}
		return Result{}, false
	}

	var out struct {
		Topic      string  `json:"topic"`
		Bias       *string `json:"bias"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("classify: malformed model output, using heuristic", "error", err)
		return Result{}, false
	}

	topic, ok := validTopic(out.Topic)
	if !ok {
		return Result{}, false
	}
	result := Result{
		Topic:      topic,
		Confidence: clamp01(out.Confidence),
		Rationale:  out.Rationale,
		Model:      c.provider.Model(),
	}
	// Bias is meaningful only for politics.
	if topic == TopicPolitics && out.Bias != nil {
		if bias, ok := validBias(*out.Bias); ok {
			result.Bias = bias
		}
	}
	return result, true
}

var topicLexicon = []struct {
	topic Topic
	re    *regexp.Regexp
}{
	{TopicPolitics, regexp.MustCompile(`(?i)\b(election|senat|congress|parliament|president|minister|campaign|ballot|legislat|democrat|republican|policy)\b`)},
	{TopicHealth, regexp.MustCompile(`(?i)\b(vaccine|virus|disease|hospital|patient|cancer|drug|medic|health|epidemi|symptom)\b`)},
	{TopicScience, regexp.MustCompile(`(?i)\b(study|research|scientist|physics|biology|astronom|peer.review|experiment|laboratory)\b`)},
	{TopicFinance, regexp.MustCompile(`(?i)\b(stock|market|inflation|interest rate|bank|crypto|earnings|gdp|economy|invest)\b`)},
	{TopicEnvironment, regexp.MustCompile(`(?i)\b(climate|carbon|emission|wildfire|drought|pollution|renewable|warming|biodivers)\b`)},
	{TopicTechnology, regexp.MustCompile(`(?i)\b(software|silicon|startup|algorithm|cyber|internet|smartphone|artificial intelligence|chip)\b`)},
}

// classifyHeuristic counts lexicon hits per topic and picks the maximum.
// Confidence is capped at fallbackMaxConfidence.
func classifyHeuristic(text string) Result {
	best := TopicGeneral
	bestHits := 0
	for _, entry := range topicLexicon {
		hits := len(entry.re.FindAllString(text, 20))
		if hits > bestHits {
			best = entry.topic
			bestHits = hits
		}
	}

	confidence := 0.2
	if bestHits >= 3 {
		confidence = fallbackMaxConfidence
	} else if bestHits > 0 {
		confidence = 0.35
	}

	return Result{
		Topic:        best,
		Confidence:   confidence,
		Rationale:    "keyword heuristic",
		Model:        "heuristic",
		FallbackUsed: true,
	}
}

func validTopic(s string) (Topic, bool) {
	switch t := Topic(s); t {
	case TopicPolitics, TopicHealth, TopicScience, TopicFinance, TopicEnvironment, TopicTechnology, TopicGeneral:
		return t, true
	}
	return "", false
}

func validBias(s string) (Bias, bool) {
	switch b := Bias(s); b {
	case BiasLeft, BiasCenterLeft, BiasCenter, BiasCenterRight, BiasRight:
		return b, true
	}
	return "", false
}

func clamp01(f float64) float64 {
	return max(0, min(1, f))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
