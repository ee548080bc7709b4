package repositoryproxy

import (
	"reflect"
	"strings"
	"unicode"
)

// namespaceFor derives the cache namespace of a model type, e.g.
// *models.UserProfile becomes "user_profile".
func namespaceFor[T any]() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	if i := strings.IndexByte(name, '['); i > 0 {
		name = name[:i]
	}
	return toSnake(name)
}

// toSnake converts s to snake_case. Punctuation from reflected type names
// collapses to a single underscore so namespaces stay usable as key
// prefixes.
func toSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	lastUnderscore := false
	separate := func() {
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || nextLower {
					separate()
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false

		case unicode.IsLower(r):
			b.WriteRune(r)
			lastUnderscore = false

		case unicode.IsDigit(r):
			if i > 0 && !unicode.IsDigit(runes[i-1]) {
				separate()
			}
			b.WriteRune(r)
			lastUnderscore = false

		default:
			separate()
		}
	}

	return strings.Trim(b.String(), "_")
}
