package utils

import (
	"strings"

	"golang.org/x/text/language"
)

// DetermineLocale resolves a locale to use based on explicit query param, Accept-Language header,
// supported locales, and a default fallback. Supported values should be normalized like "en", "zh".
func DetermineLocale(queryLang, acceptLang string, supported []string, def string) string {
	sup := map[string]struct{}{}
	for _, s := range supported {
		sup[strings.ToLower(s)] = struct{}{}
	}

	pick := func(tag language.Tag) (string, bool) {
		if tag == language.Und {
			return "", false
		}
		if l := strings.ToLower(tag.String()); l != "" {
			if _, ok := sup[l]; ok {
				return l, true
			}
		}
		// prefer base language (en-US -> en)
		base, conf := tag.Base()
		if conf == language.No {
			return "", false
		}
		l := strings.ToLower(base.String())
		if _, ok := sup[l]; ok {
			return l, true
		}
		return "", false
	}

	if queryLang != "" {
		if tag, err := language.Parse(queryLang); err == nil {
			if v, ok := pick(tag); ok {
				return v
			}
		}
	}

	// tags come back ordered by descending q
	if tags, qs, err := language.ParseAcceptLanguage(acceptLang); err == nil {
		for i, tag := range tags {
			if qs[i] <= 0 {
				continue
			}
			if v, ok := pick(tag); ok {
				return v
			}
		}
	}

	if tag, err := language.Parse(def); err == nil {
		if v, ok := pick(tag); ok {
			return v
		}
	}
	// If def not in supported, pick first supported to avoid empty
	if len(supported) > 0 {
		return strings.ToLower(supported[0])
	}
	return "en"
}
