package storyboard

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const maxDerivedNameWords = 6

// DeriveName produces a short display name from a free-form prompt.
func DeriveName(prompt string) string {
	cleaned := strings.Builder{}
	prevSpace := false
	for _, r := range prompt {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			cleaned.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			if !prevSpace {
				cleaned.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	words := strings.Fields(cleaned.String())
	if len(words) == 0 {
		return "Untitled Movie"
	}
	if len(words) > maxDerivedNameWords {
		words = words[:maxDerivedNameWords]
	}
	return cases.Title(language.Und).String(strings.Join(words, " "))
}

// SceneName labels a clip from its one-based position.
func SceneName(index int) string {
	if index < 0 {
		index = 0
	}
	return "Scene " + strconv.Itoa(index+1)
}
