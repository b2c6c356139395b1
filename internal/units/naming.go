package units

import (
	"strings"
	"unicode"
)

// TitleCase turns vendor identifiers such as "BARBELL_BENCH_PRESS" or
// "strength_training" into display names ("Barbell Bench Press").
func TitleCase(raw string) string {
	words := strings.Fields(strings.ReplaceAll(raw, "_", " "))
	for i, word := range words {
		runes := []rune(strings.ToLower(word))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// CollapseSpaces trims value and folds internal whitespace runs to one space.
func CollapseSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

// LookupKey is the case- and whitespace-insensitive key catalog names are
// matched on.
func LookupKey(name string) string {
	return strings.ToLower(CollapseSpaces(name))
}

// CanonicalEnum maps vendor enum constants ("ACTIVE_CALORIES") onto the
// application's display convention ("Active Calories"). Values that are
// already in display form pass through unchanged.
func CanonicalEnum(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if strings.ContainsRune(trimmed, '_') || trimmed == strings.ToUpper(trimmed) {
		return TitleCase(trimmed)
	}
	return CollapseSpaces(trimmed)
}
