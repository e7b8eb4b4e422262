package profile

import (
	"fmt"
	"strings"
)

// Category is one cognitive dimension used to bucket memories and drive
// interview coverage.
type Category string

const (
	CategoryLinguistic       Category = "linguistic_style"
	CategoryReasoning        Category = "logical_reasoning"
	CategoryMoral            Category = "moral_stance"
	CategoryValues           Category = "values"
	CategoryAspirations      Category = "aspirations"
	CategoryPreferences      Category = "preferences"
	CategoryAutobiographical Category = "autobiographical"
	CategoryEmotional        Category = "emotional_patterns"
)

// Categories is the closed category set in its canonical order. Anything
// that iterates categories (question targeting, prompt grouping) uses this
// order so results are deterministic.
var Categories = []Category{
	CategoryLinguistic,
	CategoryReasoning,
	CategoryMoral,
	CategoryValues,
	CategoryAspirations,
	CategoryPreferences,
	CategoryAutobiographical,
	CategoryEmotional,
}

var categoryTitles = map[Category]string{
	CategoryLinguistic:       "Linguistic style",
	CategoryReasoning:        "Logical reasoning",
	CategoryMoral:            "Moral stance",
	CategoryValues:           "Values",
	CategoryAspirations:      "Aspirations",
	CategoryPreferences:      "Preferences",
	CategoryAutobiographical: "Life history",
	CategoryEmotional:        "Emotional patterns",
}

// aliases maps loose spellings produced by generators or older clients onto
// the closed set.
var aliases = map[string]Category{
	"linguistic":               CategoryLinguistic,
	"language":                 CategoryLinguistic,
	"speech":                   CategoryLinguistic,
	"logic":                    CategoryReasoning,
	"logical":                  CategoryReasoning,
	"reasoning":                CategoryReasoning,
	"moral":                    CategoryMoral,
	"morals":                   CategoryMoral,
	"ethics":                   CategoryMoral,
	"value":                    CategoryValues,
	"aspiration":               CategoryAspirations,
	"goals":                    CategoryAspirations,
	"preference":               CategoryPreferences,
	"likes":                    CategoryPreferences,
	"memories":                 CategoryAutobiographical,
	"history":                  CategoryAutobiographical,
	"life_history":             CategoryAutobiographical,
	"autobiographical_history": CategoryAutobiographical,
	"biography":                CategoryAutobiographical,
	"emotional":                CategoryEmotional,
	"emotions":                 CategoryEmotional,
}

// Valid reports whether c belongs to the closed set.
func (c Category) Valid() bool {
	_, ok := categoryTitles[c]
	return ok
}

// Title returns the human readable label used in prompts.
func (c Category) Title() string {
	if t, ok := categoryTitles[c]; ok {
		return t
	}
	return string(c)
}

// ParseCategory coerces free-form text into the closed set. It accepts the
// canonical names, a handful of aliases, and any casing/spacing variant.
func ParseCategory(s string) (Category, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	if c := Category(norm); c.Valid() {
		return c, nil
	}
	if c, ok := aliases[norm]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}
