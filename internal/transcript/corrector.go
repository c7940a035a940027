// Package transcript post-processes transcription output before it reaches
// reply generation or the corpus. Speech recognizers reliably mangle domain
// vocabulary (product names, jargon, proper nouns); the corrector realigns
// such words against a configured glossary using Double Metaphone phonetic
// codes with Jaro-Winkler ranking.
//
// A glossary term becomes a candidate when it shares a phonetic code with a
// transcript word, and is accepted when its string similarity clears the
// phonetic threshold. Words with no phonetic candidate fall back to a pure
// similarity pass with a stricter threshold, which catches spelling-level
// garbling that phonetics miss.
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Replacement records one glossary correction applied to a transcript.
type Replacement struct {
	// Original is the transcript span that was replaced.
	Original string

	// Corrected is the glossary term substituted in.
	Corrected string

	// Confidence is the Jaro-Winkler similarity that accepted the match.
	Confidence float64
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum similarity for phonetically
// matched terms. Default 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum similarity for the non-phonetic
// fallback pass. Default 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// Corrector aligns transcript words against a fixed glossary. Read-only
// after construction, so safe for concurrent use.
type Corrector struct {
	glossary          []glossaryTerm
	maxTermWords      int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

type glossaryTerm struct {
	term   string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// NewCorrector builds a Corrector over the given glossary. An empty
// glossary yields a Corrector whose Correct is the identity.
func NewCorrector(glossary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, term := range glossary {
		lower := strings.ToLower(strings.TrimSpace(term))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		c.glossary = append(c.glossary, glossaryTerm{
			term:   strings.TrimSpace(term),
			lower:  lower,
			tokens: tokens,
			codes:  phoneticCodes(tokens),
		})
		if len(tokens) > c.maxTermWords {
			c.maxTermWords = len(tokens)
		}
	}
	return c
}

// Correct realigns text against the glossary and returns the corrected text
// with the list of replacements applied. Longer spans are tried first, so a
// two-word garbling of a two-word term wins over two independent one-word
// matches.
func (c *Corrector) Correct(text string) (string, []Replacement) {
	if len(c.glossary) == 0 || strings.TrimSpace(text) == "" {
		return text, nil
	}

	words := strings.Fields(text)
	var (
		out          []string
		replacements []Replacement
	)
	for i := 0; i < len(words); {
		matched := false
		for span := min(c.maxTermWords, len(words)-i); span >= 1 && !matched; span-- {
			candidate := strings.Join(words[i:i+span], " ")
			core, prefix, suffix := trimPunct(candidate)
			if core == "" {
				continue
			}
			term, score, ok := c.match(core)
			if !ok || strings.EqualFold(core, term) {
				continue
			}
			out = append(out, prefix+term+suffix)
			replacements = append(replacements, Replacement{
				Original:   core,
				Corrected:  term,
				Confidence: score,
			})
			i += span
			matched = true
		}
		if !matched {
			out = append(out, words[i])
			i++
		}
	}
	return strings.Join(out, " "), replacements
}

// match finds the best glossary term for a span, preferring phonetic
// candidates over pure-similarity ones.
func (c *Corrector) match(span string) (string, float64, bool) {
	spanLower := strings.ToLower(span)
	spanTokens := strings.Fields(spanLower)
	spanCodes := phoneticCodes(spanTokens)

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)
	for _, gt := range c.glossary {
		phonetic := sharesCode(spanCodes, gt.codes)
		score := similarity(spanTokens, gt.tokens)

		switch {
		case phonetic && score >= c.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				bestTerm, bestScore, bestPhonetic = gt.term, score, true
			}
		case !phonetic && !bestPhonetic && score >= c.fuzzyThreshold && score > bestScore:
			bestTerm, bestScore = gt.term, score
		}
	}
	if bestTerm == "" {
		return span, 0, false
	}
	return bestTerm, bestScore, true
}

// phoneticCodes unions the Double Metaphone codes of all tokens. Tokens too
// short to produce a code contribute nothing.
func phoneticCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, 2*len(tokens))
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func sharesCode(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity scores a span against a glossary term. The token counts must
// agree: each position is compared with Jaro-Winkler and the scores averaged,
// so a span only matches a term it covers in full. One garbled word inside a
// longer span cannot drag the whole term in, and a span of a different width
// than the term never matches.
func similarity(aTokens, bTokens []string) float64 {
	if len(aTokens) != len(bTokens) {
		return 0
	}
	var sum float64
	for i := range aTokens {
		sum += matchr.JaroWinkler(aTokens[i], bTokens[i], false)
	}
	return sum / float64(len(aTokens))
}

// trimPunct splits leading and trailing punctuation off a span so the
// correction preserves it.
func trimPunct(s string) (core, prefix, suffix string) {
	start := 0
	for start < len(s) && isPunct(s[start]) {
		start++
	}
	end := len(s)
	for end > start && isPunct(s[end-1]) {
		end--
	}
	return s[start:end], s[:start], s[end:]
}

func isPunct(b byte) bool {
	switch b {
	case '.', ',', '!', '?', ';', ':', '"', '\'', '(', ')':
		return true
	}
	return false
}
