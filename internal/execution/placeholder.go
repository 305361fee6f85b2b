package execution

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ariacorp/ariarun/internal/aerrors"
	"github.com/ariacorp/ariarun/internal/domain"
)

var placeholderPattern = regexp.MustCompile(`\$\{step_(\d+)(\.[^}]+)?\}`)

// ResolvePlaceholders implements §4.9's placeholder resolution rules:
// "${step_N}" substitutes the full result of the N-th completed step;
// "${step_N.path}" looks up a dotted path inside that result. A whole-
// string placeholder substitutes the raw value (object/array preserved);
// an embedded placeholder is substituted by its JSON stringification. A
// reference to a step that hasn't completed fails with
// PlaceholderUnresolved, per §8 boundary behavior.
func ResolvePlaceholders(params map[string]any, history []domain.ExecutionStep) (map[string]any, error) {
	resolved := make(map[string]any, len(params))
	for k, v := range params {
		rv, err := resolveValue(v, history)
		if err != nil {
			return nil, err
		}
		resolved[k] = rv
	}
	return resolved, nil
}

func resolveValue(v any, history []domain.ExecutionStep) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, history)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			r, err := resolveValue(inner, history)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			r, err := resolveValue(inner, history)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, history []domain.ExecutionStep) (any, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if matches == nil {
		return s, nil
	}

	// A placeholder that is the entire string substitutes the raw value
	// (preserving its type); otherwise every match is textually/JSON
	// substituted in place.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		return lookupPlaceholder(s, history)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		b.WriteString(s[last:start])
		val, err := lookupPlaceholder(s[start:end], history)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(val))
		last = end
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func lookupPlaceholder(token string, history []domain.ExecutionStep) (any, error) {
	m := placeholderPattern.FindStringSubmatch(token)
	if m == nil {
		return token, nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > len(history) {
		return nil, aerrors.New(aerrors.CodePlaceholderUnresolv, aerrors.CategoryPlanning, aerrors.SeverityMedium,
			fmt.Sprintf("placeholder %q references a step that has not completed", token))
	}
	step := history[n-1]

	path := strings.TrimPrefix(m[2], ".")
	if path == "" {
		return step.Result, nil
	}
	return lookupPath(step.Result, strings.Split(path, "."))
}

func lookupPath(v any, segments []string) (any, error) {
	cur := v
	for _, seg := range segments {
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[seg]
			if !ok {
				return nil, aerrors.New(aerrors.CodePlaceholderUnresolv, aerrors.CategoryPlanning, aerrors.SeverityMedium,
					fmt.Sprintf("placeholder path segment %q not found", seg))
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, aerrors.New(aerrors.CodePlaceholderUnresolv, aerrors.CategoryPlanning, aerrors.SeverityMedium,
					fmt.Sprintf("placeholder array index %q out of range", seg))
			}
			cur = c[idx]
		default:
			return nil, aerrors.New(aerrors.CodePlaceholderUnresolv, aerrors.CategoryPlanning, aerrors.SeverityMedium,
				fmt.Sprintf("placeholder path segment %q has no container to descend into", seg))
		}
	}
	return cur, nil
}
