package service

import (
	"golang.org/x/text/language"
)

// Locales picks the best supported locale for a request.
type Locales struct {
	names   []string
	matcher language.Matcher
}

// NewLocales builds a matcher over supported. The first entry is the default.
func NewLocales(supported []string) *Locales {
	if len(supported) == 0 {
		supported = []string{"en"}
	}
	tags := make([]language.Tag, 0, len(supported))
	names := make([]string, 0, len(supported))
	for _, s := range supported {
		tag, err := language.Parse(s)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
		names = append(names, s)
	}
	if len(tags) == 0 {
		tags = []language.Tag{language.English}
		names = []string{"en"}
	}
	return &Locales{names: names, matcher: language.NewMatcher(tags)}
}

func (l *Locales) Default() string {
	return l.names[0]
}

// Match resolves an explicit locale from the request body first, then the
// Accept-Language header, falling back to the default.
func (l *Locales) Match(explicit, acceptLanguage string) string {
	var desired []language.Tag
	if explicit != "" {
		if tag, err := language.Parse(explicit); err == nil {
			desired = append(desired, tag)
		}
	}
	if acceptLanguage != "" {
		if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil {
			desired = append(desired, tags...)
		}
	}
	if len(desired) == 0 {
		return l.Default()
	}

	_, index, confidence := l.matcher.Match(desired...)
	if confidence == language.No {
		return l.Default()
	}
	return l.names[index]
}
