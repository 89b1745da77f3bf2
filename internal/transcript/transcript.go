// Package transcript tidies recognized utterances before they become user
// turns.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type Options struct {
	// SentenceCase capitalizes sentence starts and the pronoun "i".
	SentenceCase bool
}

// abbreviations end in a period without ending the sentence.
var abbreviations = map[string]struct{}{
	"dr": {}, "mr": {}, "mrs": {}, "ms": {}, "prof": {}, "sr": {}, "jr": {}, "st": {},
	"e.g": {}, "i.e": {}, "cf": {}, "vs": {}, "approx": {}, "no": {}, "fig": {},
}

// lowercaseLeads stay lowercase even when they open a sentence.
var lowercaseLeads = map[string]struct{}{"e.g.": {}, "i.e.": {}, "etc.": {}, "vs.": {}}

var pronounContractions = map[string]struct{}{"m": {}, "d": {}, "ll": {}, "ve": {}, "re": {}, "s": {}}

// Assemble joins finalized segments into one utterance with single spaces.
func Assemble(segments []string, opts Options) string {
	words := strings.Fields(strings.Join(segments, " "))
	if len(words) == 0 {
		return ""
	}
	if opts.SentenceCase {
		sentenceCase(words)
	}
	return strings.Join(words, " ")
}

func sentenceCase(words []string) {
	start := true
	for i, word := range words {
		switch {
		case start:
			if _, ok := lowercaseLeads[strings.ToLower(word)]; !ok {
				word = upperFirstLetter(word)
			}
		case isPronounI(word):
			word = "I" + word[1:]
		}
		words[i] = word
		start = endsSentence(word)
	}
}

func upperFirstLetter(word string) string {
	for i, r := range word {
		if unicode.IsLetter(r) {
			return word[:i] + string(unicode.ToUpper(r)) + word[i+utf8.RuneLen(r):]
		}
		if unicode.IsDigit(r) {
			return word
		}
	}
	return word
}

func isPronounI(word string) bool {
	core := strings.TrimRight(word, ",.;:!?\"')”’")
	if core == "i" {
		return true
	}
	for _, apostrophe := range []string{"i'", "i’"} {
		if rest, ok := strings.CutPrefix(core, apostrophe); ok {
			_, known := pronounContractions[strings.ToLower(rest)]
			return known
		}
	}
	return false
}

// endsSentence reports whether the next word opens a new sentence.
func endsSentence(word string) bool {
	core := strings.TrimRight(word, "\"')]”’")
	if core == "" {
		return false
	}
	switch core[len(core)-1] {
	case '!', '?':
		return true
	case '.':
	default:
		return false
	}

	token := strings.ToLower(strings.TrimSuffix(core, "."))
	token = strings.TrimLeft(token, "\"'([“‘")
	if _, ok := abbreviations[token]; ok {
		return false
	}
	// Initialisms such as u.s. or single initials such as j.
	if strings.Contains(token, ".") || utf8.RuneCountInString(token) == 1 {
		return false
	}
	return true
}
