// Package filter implements the keyword rules that classify news titles.
package filter

import (
	"strings"

	"news_bot/internal/model"
)

// Keyword families matched as lower-case substrings of the title.
var (
	powerKeywords   = []string{"электроснабжен", "электроэнерги"}
	waterKeywords   = []string{"вода", "воды", "водоснабжен", "водоотведен"}
	utilityKeywords = []string{
		"электроснабжен", "электроэнерги",
		"вода", "воды", "водоснабжен", "водоотведен",
		"отключени", "об отключени",
	}
)

// categoryRules are evaluated in order; the first match wins.
var categoryRules = []struct {
	category model.Category
	keywords []string
}{
	{category: model.CategoryPower, keywords: powerKeywords},
	{category: model.CategoryWater, keywords: waterKeywords},
}

// Categorize maps a title to its topic category. Titles that match no rule
// fall into model.CategoryOther.
func Categorize(title string) model.Category {
	lower := strings.ToLower(title)
	for _, r := range categoryRules {
		if containsAny(lower, r.keywords) {
			return r.category
		}
	}
	return model.CategoryOther
}

// IsUtility reports whether a title announces a utility outage. Such items
// keep their full text and are formatted by the reformatting service.
func IsUtility(title string) bool {
	return containsAny(strings.ToLower(title), utilityKeywords)
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
