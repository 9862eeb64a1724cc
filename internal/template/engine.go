package template

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Engine interpolates `{{ name }}` placeholders in declaration values. The
// `{{ .name }}` form is accepted as well.
type Engine struct {
	pattern *regexp.Regexp
}

// New creates a new template engine
func New() *Engine {
	return &Engine{
		pattern: regexp.MustCompile(`\{\{\s*\.?([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`),
	}
}

// Replace replaces placeholders in value using vars. Strings, maps and slices
// are walked recursively; other values are returned as-is. Every placeholder
// must resolve, otherwise an error naming the missing variables is returned.
func (e *Engine) Replace(value interface{}, vars map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.ReplaceString(v, vars)
	case map[string]interface{}:
		return e.replaceMap(v, vars)
	case []interface{}:
		return e.replaceSlice(v, vars)
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			r, err := e.ReplaceString(s, vars)
			if err != nil {
				return nil, fmt.Errorf("error at index %d: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	default:
		return value, nil
	}
}

// ReplaceString replaces placeholders in a single string.
func (e *Engine) ReplaceString(s string, vars map[string]interface{}) (string, error) {
	var missing []string
	result := e.pattern.ReplaceAllStringFunc(s, func(match string) string {
		name := e.pattern.FindStringSubmatch(match)[1]
		value, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		return stringify(value)
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(dedupe(missing), ", "))
	}
	return result, nil
}

func (e *Engine) replaceMap(m map[string]interface{}, vars map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(m))
	for key, value := range m {
		replaced, err := e.Replace(value, vars)
		if err != nil {
			return nil, fmt.Errorf("error in key '%s': %w", key, err)
		}
		result[key] = replaced
	}
	return result, nil
}

func (e *Engine) replaceSlice(s []interface{}, vars map[string]interface{}) ([]interface{}, error) {
	result := make([]interface{}, len(s))
	for i, value := range s {
		replaced, err := e.Replace(value, vars)
		if err != nil {
			return nil, fmt.Errorf("error at index %d: %w", i, err)
		}
		result[i] = replaced
	}
	return result, nil
}

// ExtractVariables returns the sorted set of placeholder names used in value.
func (e *Engine) ExtractVariables(value interface{}) []string {
	seen := make(map[string]bool)
	e.extract(value, seen)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) extract(value interface{}, seen map[string]bool) {
	switch v := value.(type) {
	case string:
		for _, match := range e.pattern.FindAllStringSubmatch(v, -1) {
			seen[match[1]] = true
		}
	case []string:
		for _, s := range v {
			e.extract(s, seen)
		}
	case map[string]interface{}:
		for _, val := range v {
			e.extract(val, seen)
		}
	case []interface{}:
		for _, val := range v {
			e.extract(val, seen)
		}
	}
}

func stringify(v interface{}) string {
	switch r := v.(type) {
	case string:
		return r
	case int:
		return strconv.Itoa(r)
	case int64:
		return strconv.FormatInt(r, 10)
	case float64:
		return strconv.FormatFloat(r, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(r)
	case fmt.Stringer:
		return r.String()
	default:
		return fmt.Sprintf("%v", r)
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
