package pinottest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// RenderTemplate replaces every ${name} in tmpl with props[name]. A
// placeholder without a value is an error.
func RenderTemplate(tmpl []byte, props map[string]string) ([]byte, error) {
	missing := map[string]bool{}
	out := placeholder.ReplaceAllFunc(tmpl, func(m []byte) []byte {
		name := strings.TrimSpace(string(m[2 : len(m)-1]))
		value, ok := props[name]
		if !ok {
			missing[name] = true
			return m
		}
		return []byte(value)
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unresolved placeholders: %s", strings.Join(names, ", "))
	}
	return out, nil
}
