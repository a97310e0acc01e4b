// Package intent detects conversational intents in caller phrases.
//
// Detection combines exact containment with Double Metaphone phonetic
// matching and Jaro-Winkler similarity, so telephony-grade transcriptions
// ("good bye", "goodbyee", "by") still register. The detector is read-only
// after construction and safe for concurrent use.
package intent

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// defaultFarewells are the phrases that end a call when the caller says
// them. Multi-word phrases match on containment; single words also match
// phonetically.
var defaultFarewells = []string{
	"goodbye",
	"bye",
	"bye bye",
	"good bye",
	"see you",
	"talk to you later",
	"gotta go",
	"have to go",
	"hang up",
}

// Option is a functional option for configuring a [Detector].
type Option func(*Detector)

// WithPhrases replaces the default farewell phrase list.
func WithPhrases(phrases ...string) Option {
	return func(d *Detector) { d.phrases = phrases }
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched word to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(d *Detector) { d.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(d *Detector) { d.fuzzyThreshold = threshold }
}

// Detector recognizes farewell intent in caller phrases.
type Detector struct {
	phrases           []string
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewDetector returns a Detector configured with the supplied options.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		phrases:           defaultFarewells,
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// IsFarewell reports whether text carries farewell intent.
func (d *Detector) IsFarewell(text string) bool {
	normalized := normalize(text)
	if normalized == "" {
		return false
	}

	// Stage 1: containment of a known phrase as whole words.
	padded := " " + normalized + " "
	for _, phrase := range d.phrases {
		if strings.Contains(padded, " "+phrase+" ") {
			return true
		}
	}

	// Stage 2: phonetic match of single-word farewells against each word.
	// Very short phrases ("bye") are exact-only: their phonetic codes
	// collide with everyday words like "buy".
	words := strings.Fields(normalized)
	for _, phrase := range d.phrases {
		if strings.ContainsRune(phrase, ' ') || len(phrase) < 4 {
			continue
		}
		pPrimary, pSecondary := matchr.DoubleMetaphone(phrase)
		for _, w := range words {
			wPrimary, wSecondary := matchr.DoubleMetaphone(w)
			if !codesOverlap(pPrimary, pSecondary, wPrimary, wSecondary) {
				continue
			}
			if matchr.JaroWinkler(w, phrase, false) >= d.phoneticThreshold {
				return true
			}
		}
	}

	// Stage 3: fuzzy fallback on pure string similarity.
	for _, phrase := range d.phrases {
		if strings.ContainsRune(phrase, ' ') || len(phrase) < 4 {
			continue
		}
		for _, w := range words {
			// Jaro-Winkler rewards shared prefixes, so "good" scores
			// high against "goodbye"; require comparable lengths.
			if len(w)*10 < len(phrase)*7 {
				continue
			}
			if matchr.JaroWinkler(w, phrase, false) >= d.fuzzyThreshold {
				return true
			}
		}
	}
	return false
}

func codesOverlap(a1, a2, b1, b2 string) bool {
	if a1 == "" && a2 == "" {
		return false
	}
	return (a1 != "" && (a1 == b1 || a1 == b2)) ||
		(a2 != "" && (a2 == b1 || a2 == b2))
}

func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '\'':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
