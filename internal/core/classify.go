package core

import (
	"strings"
	"unicode"

	"github.com/samber/lo"

	"globule-intake/pkg"
)

// skinKeywords are whole words (or word sequences) matched against the
// lower-cased answers.
var skinKeywords = []string{
	// Devanagari
	"खुजली", "दाने", "दाना", "फुंसी", "फुंसियां", "फोड़ा", "फोडा", "चकत्ते", "एक्जिमा",
	"सोरायसिस", "मुंहासे", "मुहांसे", "दाद", "फंगल", "त्वचा", "चमड़ी", "सफेद दाग", "धब्बे",
	// romanised Hindi
	"khujli", "khujali", "daane", "dana", "phunsi", "phunsiyan", "phoda", "chakatte",
	"daad", "chamdi", "twacha", "dhabbe",
	// English
	"rash", "rashes", "eczema", "psoriasis", "acne", "pimple", "pimples", "boil",
	"boils", "fungal", "fungus", "ringworm", "discoloration", "discolouration",
	"blister", "blisters", "hives", "skin", "lesion", "lesions", "wart", "warts",
	"vitiligo",
}

// skinStems match any word that starts with them.
var skinStems = []string{"itch", "khujl", "खुजल"}

var skinPhrases = lo.Map(skinKeywords, func(k string, _ int) []string { return words(k) })

// words splits s into lower-case words.  Combining marks stay inside the word
// so Devanagari vowel signs do not break it apart.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsMark(r)
	})
}

// hasPhrase reports whether phrase occurs as consecutive words of ws.
func hasPhrase(ws, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	for i := 0; i+len(phrase) <= len(ws); i++ {
		match := true
		for j, p := range phrase {
			if ws[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Classify picks the photo category from the answer text: any skin keyword
// means a lesion photo, otherwise a tongue photo.
func Classify(text string) pkg.ImageCategory {
	ws := words(text)
	if lo.ContainsBy(skinPhrases, func(p []string) bool { return hasPhrase(ws, p) }) {
		return pkg.ImageLesion
	}
	stem := lo.ContainsBy(ws, func(w string) bool {
		return lo.ContainsBy(skinStems, func(s string) bool { return strings.HasPrefix(w, s) })
	})
	if stem {
		return pkg.ImageLesion
	}
	return pkg.ImageTongue
}
