// Package txid pulls a transaction identifier out of free-form agent output.
package txid

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var structuredFields = []string{"transaction_id", "id", "tx_id"}

// patterns are tried in order; the first capture group wins, or the whole
// match when the pattern has none.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`),
	regexp.MustCompile(`(?i)transaction[_\s-]?id["':\s]+([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`(?i)tx[_\s-]?id["':\s]+([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`0x[a-fA-F0-9]{64}`),
	regexp.MustCompile(`(?i)\bid["':\s]+([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`),
	regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`),
	regexp.MustCompile(`[a-zA-Z0-9]{32,64}`),
}

// Extract returns the identifier found in text and whether one was found.
// It never fails; unparseable input simply falls through to pattern matching.
func Extract(text string) (string, bool) {
	if id, ok := fromStructured(text); ok {
		return id, true
	}
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if len(m) > 1 && m[1] != "" {
			return m[1], true
		}
		return m[0], true
	}
	return "", false
}

func fromStructured(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	// Numbers stay as written; float64 would turn long ids into exponents.
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var record map[string]any
	if err := dec.Decode(&record); err != nil || dec.More() {
		return "", false
	}
	for _, field := range structuredFields {
		v, ok := record[field]
		if !ok || v == nil {
			continue
		}
		s := scalar(v)
		if s != "" {
			return s, true
		}
	}
	return "", false
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool, map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
