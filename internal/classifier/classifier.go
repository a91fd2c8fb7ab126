// Package classifier decides whether a finished user utterance warrants a
// spoken reply now or whether the user is likely to keep talking.
//
// The decision comes from a short YES/NO completion on a fast
// [llm.Provider]. Any failure of that call (timeout, transport error, open
// circuit, unparseable answer) falls back to a local heuristic: respond when
// the utterance contains a question mark or a configured trigger phrase.
// Classification errors never reach the caller.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

const (
	// DefaultTimeout bounds the remote call.
	DefaultTimeout = 3 * time.Second

	// DefaultFuzzyThreshold is the Jaro-Winkler score at which a span of the
	// utterance counts as a trigger phrase.
	DefaultFuzzyThreshold = 0.92
)

// Decision sources, used as the "source" metric attribute.
const (
	SourceRemote    = "remote"
	SourceHeuristic = "heuristic"
)

// DefaultTriggers is used when no trigger phrases are configured.
var DefaultTriggers = []string{
	"what do you think",
	"can you",
	"could you",
	"tell me",
	"help me",
	"please",
}

// errMalformed is returned by the remote call when the answer contains
// neither YES nor NO.
var errMalformed = errors.New("classifier: answer is neither yes nor no")

const systemPrompt = `You monitor a live voice conversation between a user and an assistant.
Decide whether the user's latest utterance is addressed to the assistant and expects a reply right now,
or whether the user is still thinking aloud or mid-sentence and the assistant should keep listening.

Answer with exactly one word: YES or NO.`

// Decision is the outcome of one classification.
type Decision struct {
	Respond bool
	Source  string
}

// Option configures a [Classifier].
type Option func(*Classifier)

// WithTimeout overrides [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTriggers replaces the heuristic trigger phrases. Matching is case
// insensitive. An empty list keeps [DefaultTriggers].
func WithTriggers(phrases ...string) Option {
	return func(c *Classifier) {
		if len(phrases) > 0 {
			c.triggers = normalisePhrases(phrases)
		}
	}
}

// WithFuzzyThreshold overrides [DefaultFuzzyThreshold]. Values outside
// (0, 1] are ignored.
func WithFuzzyThreshold(t float64) Option {
	return func(c *Classifier) {
		if t > 0 && t <= 1 {
			c.threshold = t
		}
	}
}

// WithBreaker guards the remote call with cb. While cb is open the
// heuristic answers immediately.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Classifier) { c.breaker = cb }
}

// WithMetrics records decisions into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

// Classifier is safe for concurrent use.
type Classifier struct {
	provider  llm.Provider
	timeout   time.Duration
	triggers  [][]string
	threshold float64
	breaker   *resilience.CircuitBreaker
	metrics   *observe.Metrics
}

// New returns a Classifier backed by p. A nil p makes every decision
// heuristic.
func New(p llm.Provider, opts ...Option) *Classifier {
	c := &Classifier{
		provider:  p,
		timeout:   DefaultTimeout,
		triggers:  normalisePhrases(DefaultTriggers),
		threshold: DefaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ShouldRespond reports whether the assistant should answer utterance now.
// recent holds the preceding user utterances, oldest first, and may include
// utterance itself as its last element.
func (c *Classifier) ShouldRespond(ctx context.Context, utterance string, recent []string) bool {
	return c.Classify(ctx, utterance, recent).Respond
}

// Classify is [Classifier.ShouldRespond] that also reports where the
// decision came from.
func (c *Classifier) Classify(ctx context.Context, utterance string, recent []string) Decision {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "classifier.classify")
	defer span.End()

	d, err := c.remote(ctx, utterance, recent)
	if err != nil {
		observe.Logger(ctx).Debug("classifier: falling back to heuristic", "err", err)
		d = Decision{Respond: c.Heuristic(utterance), Source: SourceHeuristic}
	}

	span.SetAttributes(
		attribute.String("source", d.Source),
		attribute.Bool("respond", d.Respond),
	)
	if c.metrics != nil {
		c.metrics.RecordClassifierDecision(ctx, d.Source, d.Respond, time.Since(start).Seconds())
	}
	return d
}

func (c *Classifier) remote(ctx context.Context, utterance string, recent []string) (Decision, error) {
	if c.provider == nil {
		return Decision{}, errors.New("classifier: no provider configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var respond bool
	call := func() error {
		resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: systemPrompt,
			Messages:     []llm.Message{{Role: llm.RoleUser, Content: buildPrompt(utterance, recent)}},
			Temperature:  0,
			MaxTokens:    3,
		})
		if err != nil {
			return err
		}
		respond, err = parseAnswer(resp.Content)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return Decision{}, fmt.Errorf("classifier: remote: %w", err)
	}
	return Decision{Respond: respond, Source: SourceRemote}, nil
}

// buildPrompt renders the recent context followed by the utterance under
// judgement.
func buildPrompt(utterance string, recent []string) string {
	if n := len(recent); n > 0 && recent[n-1] == utterance {
		recent = recent[:n-1]
	}
	var b strings.Builder
	if len(recent) > 0 {
		b.WriteString("Earlier utterances, oldest first:\n")
		for _, r := range recent {
			b.WriteString("- ")
			b.WriteString(r)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	b.WriteString("Latest utterance:\n")
	b.WriteString(utterance)
	return b.String()
}

func parseAnswer(content string) (bool, error) {
	upper := strings.ToUpper(content)
	switch {
	case strings.Contains(upper, "YES"):
		return true, nil
	case strings.Contains(upper, "NO"):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", errMalformed, content)
	}
}

// Heuristic is the local fallback decision. It answers true for any
// utterance containing '?' and for utterances containing one of the trigger
// phrases, either verbatim or as a close fuzzy match of a span of words of
// the same length.
func (c *Classifier) Heuristic(utterance string) bool {
	if strings.Contains(utterance, "?") {
		return true
	}
	words := tokenize(utterance)
	if len(words) == 0 {
		return false
	}
	joined := " " + strings.Join(words, " ") + " "

	for _, phrase := range c.triggers {
		if strings.Contains(joined, " "+strings.Join(phrase, " ")+" ") {
			return true
		}
		n := len(phrase)
		if n > len(words) {
			continue
		}
		target := strings.Join(phrase, " ")
		for i := 0; i+n <= len(words); i++ {
			span := strings.Join(words[i:i+n], " ")
			if matchr.JaroWinkler(span, target, false) >= c.threshold {
				slog.Debug("classifier: fuzzy trigger match", "span", span, "trigger", target)
				return true
			}
		}
	}
	return false
}

func normalisePhrases(phrases []string) [][]string {
	out := make([][]string, 0, len(phrases))
	for _, p := range phrases {
		if words := tokenize(p); len(words) > 0 {
			out = append(out, words)
		}
	}
	return out
}

// tokenize lowercases s and splits it into words, dropping punctuation.
// Apostrophes inside words are kept.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
