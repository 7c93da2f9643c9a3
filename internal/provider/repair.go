package provider

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// DecodeJSON parses model output into a map, walking a repair ladder on
// failure: markdown fence strip, first balanced object extraction, trailing
// comma removal, control character removal, bare key quoting. Each rung is
// cumulative; the first parse that succeeds wins.
func DecodeJSON(text string) (map[string]any, error) {
	candidate := stripFences(text)

	if m, err := tryParse(candidate); err == nil {
		return m, nil
	}

	candidate = extractBalancedObject(candidate)
	if candidate == "" {
		return nil, fmt.Errorf("no JSON object found")
	}
	if m, err := tryParse(candidate); err == nil {
		return m, nil
	}

	candidate = stripTrailingCommas(candidate)
	if m, err := tryParse(candidate); err == nil {
		return m, nil
	}

	candidate = stripControlChars(candidate)
	if m, err := tryParse(candidate); err == nil {
		return m, nil
	}

	candidate = quoteBareKeys(candidate)
	m, err := tryParse(candidate)
	if err != nil {
		return nil, fmt.Errorf("unrepairable JSON: %w", err)
	}
	return m, nil
}

func tryParse(s string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("JSON is null")
	}
	return m, nil
}

// stripFences removes ```json ... ``` wrappers that models emit even when
// told not to.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```JSON", "```"} {
		if !strings.HasPrefix(text, fence) {
			continue
		}
		text = strings.TrimPrefix(text, fence)
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}
	return text
}

// extractBalancedObject returns the first top-level {...} span, tracking
// string and escape state so braces inside values don't truncate it.
func extractBalancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	// Unbalanced; return from the first brace and let later rungs try.
	return text[start:]
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

func stripTrailingCommas(s string) string {
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 {
			return -1
		}
		return r
	}, s)
}

var bareKeyRe = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_-]*)(\s*):`)

func quoteBareKeys(s string) string {
	return bareKeyRe.ReplaceAllString(s, `$1"$2"$3:`)
}
