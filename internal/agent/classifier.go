package agent

import (
	"context"
	"strings"
	"unicode"

	"github.com/soyeahso/switchboard/internal/domain"
)

// Well-known intents.
const (
	IntentHumanRequest    = "human_request"
	IntentBookAppointment = "book_appointment"
	IntentSupport         = "support"
	IntentSales           = "sales_inquiry"
	IntentUnknown         = "unknown"
)

// unknownConfidence is reported when no rule matched.
const unknownConfidence = 0.5

// Classifier labels an inbound turn with an intent and a confidence.
type Classifier interface {
	Classify(ctx context.Context, content string, meta domain.ChannelMetadata) (Signal, error)
}

// IntentRule maps keywords to an intent. Single words match any word that
// starts with them; phrases match anywhere in the normalized text.
type IntentRule struct {
	Intent     string
	Keywords   []string
	Confidence float64
}

// EscalationPhrases are explicit requests for a person.
var EscalationPhrases = []string{
	"talk to human", "talk to a human", "speak to human", "speak to a human",
	"human agent", "real person", "talk to someone", "speak to someone",
	"customer service representative", "speak to a representative",
	"agent please", "transfer me", "connect me to", "i want to talk to",
	"let me speak to", "get me a human", "no bot", "not a bot", "real human",
}

// DefaultIntentRules are the keyword rules used when none are given.
func DefaultIntentRules() []IntentRule {
	return []IntentRule{
		{Intent: IntentBookAppointment, Confidence: 0.9, Keywords: []string{"book", "appointment", "schedule", "reschedule", "reservation"}},
		{Intent: IntentSupport, Confidence: 0.8, Keywords: []string{"broken", "not working", "problem", "issue", "error", "technical"}},
		{Intent: IntentSales, Confidence: 0.8, Keywords: []string{"price", "pricing", "cost", "buy", "purchase", "quote"}},
	}
}

// KeywordClassifier is the default Classifier. Explicit escalation phrases
// win; an intent supplied by the channel (for example by ASR) comes next;
// keyword rules are evaluated last in order.
type KeywordClassifier struct {
	rules []IntentRule
}

// NewKeywordClassifier creates a classifier; no rules means DefaultIntentRules.
func NewKeywordClassifier(rules ...IntentRule) *KeywordClassifier {
	if len(rules) == 0 {
		rules = DefaultIntentRules()
	}
	return &KeywordClassifier{rules: rules}
}

// Classify implements Classifier. A confidence in the channel metadata
// overrides the rule confidence.
func (k *KeywordClassifier) Classify(_ context.Context, content string, meta domain.ChannelMetadata) (Signal, error) {
	text := normalize(content)
	for _, p := range EscalationPhrases {
		if strings.Contains(text, p) {
			return Signal{Intent: IntentHumanRequest, Confidence: 1.0}, nil
		}
	}

	s := Signal{Intent: IntentUnknown, Confidence: unknownConfidence}
	if meta.Intent != "" {
		s = Signal{Intent: meta.Intent, Confidence: 1.0}
	} else {
		words := strings.Fields(text)
		for _, r := range k.rules {
			if matchesAny(text, words, r.Keywords) {
				s = Signal{Intent: r.Intent, Confidence: r.Confidence}
				break
			}
		}
	}
	if meta.Confidence != nil {
		s.Confidence = clamp(*meta.Confidence)
	}
	return s, nil
}

func matchesAny(text string, words, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(kw, " ") {
			if strings.Contains(text, kw) {
				return true
			}
			continue
		}
		for _, w := range words {
			if strings.HasPrefix(w, kw) {
				return true
			}
		}
	}
	return false
}

// normalize lowercases s and turns punctuation into spaces.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
