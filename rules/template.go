package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern recognizes "$$", "$name" and "${name}". The trailing
// empty alternative catches a "$" that starts none of them.
var placeholderPattern = regexp.MustCompile(`\$(?:(\$)|([_A-Za-z][_A-Za-z0-9]*)|\{([_A-Za-z][_A-Za-z0-9]*)\}|)`)

// Render substitutes every placeholder in template with its value from
// values. "$$" renders a literal dollar sign. A name missing from values, or
// a malformed placeholder, yields a *TemplateError.
func Render(template string, values Captures) (string, error) {
	var b strings.Builder
	last := 0

	for _, m := range placeholderPattern.FindAllStringSubmatchIndex(template, -1) {
		b.WriteString(template[last:m[0]])
		last = m[1]

		name, escaped, ok := placeholderName(template, m)
		if !ok {
			return "", &TemplateError{
				Template: template,
				Reason:   fmt.Sprintf("invalid placeholder at offset %d", m[0]),
			}
		}
		if escaped {
			b.WriteByte('$')
			continue
		}

		value, found := values[name]
		if !found {
			return "", &TemplateError{
				Template:    template,
				Placeholder: name,
				Reason:      "no capture named",
			}
		}
		b.WriteString(value)
	}

	b.WriteString(template[last:])
	return b.String(), nil
}

// Placeholders lists the names referenced by template, in order of
// appearance and without duplicates.
func Placeholders(template string) ([]string, error) {
	var names []string
	seen := make(map[string]bool)

	for _, m := range placeholderPattern.FindAllStringSubmatchIndex(template, -1) {
		name, escaped, ok := placeholderName(template, m)
		if !ok {
			return nil, fmt.Errorf("invalid placeholder at offset %d in %q", m[0], template)
		}
		if escaped || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	return names, nil
}

func placeholderName(template string, m []int) (name string, escaped, ok bool) {
	switch {
	case m[2] >= 0:
		return "", true, true
	case m[4] >= 0:
		return template[m[4]:m[5]], false, true
	case m[6] >= 0:
		return template[m[6]:m[7]], false, true
	default:
		return "", false, false
	}
}
