package dialog

import (
	"regexp"
	"strings"
)

// maxSentences caps how much of a model reply is spoken. Long answers read
// badly over a phone line.
const maxSentences = 3

// listMarker strips leading bullet and enumeration markers that chat models
// emit despite being told not to.
var listMarker = regexp.MustCompile(`(?m)^\s*(?:[-*•]+|\d+[.)])\s+`)

var abbrevReplacer = strings.NewReplacer(
	"e.g.", "for example",
	"i.e.", "that is",
)

// symbolReplacer removes markup characters that a TTS voice would either
// skip or read aloud. Hyphens become spaces, so hyphenated words are
// spoken as two.
var symbolReplacer = strings.NewReplacer(
	"•", " ",
	"*", " ",
	"#", " ",
	"`", " ",
	"_", " ",
	"-", " ",
	"—", " ",
)

// Normalize rewrites a model reply into text suitable for speech: list
// markers and markup stripped, written abbreviations expanded, whitespace
// collapsed, and the reply capped at a few sentences. Normalize is
// idempotent.
func Normalize(text string) string {
	s := listMarker.ReplaceAllString(text, "")
	s = abbrevReplacer.Replace(s)
	s = symbolReplacer.Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	s = limitSentences(s, maxSentences)
	return strings.TrimSpace(s)
}

// limitSentences cuts s after max sentence terminators. A terminator is a
// run of ".", "!" or "?" followed by a space or the end of the text.
func limitSentences(s string, max int) string {
	if max <= 0 {
		return s
	}
	count := 0
	for i := 0; i < len(s); {
		c := s[i]
		if c != '.' && c != '!' && c != '?' {
			i++
			continue
		}
		j := i + 1
		for j < len(s) && (s[j] == '.' || s[j] == '!' || s[j] == '?') {
			j++
		}
		if j >= len(s) || s[j] == ' ' {
			count++
			if count >= max {
				return strings.TrimSpace(s[:j])
			}
		}
		i = j
	}
	return s
}
