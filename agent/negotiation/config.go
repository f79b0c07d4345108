package negotiation

import (
	"strings"
)

type Config struct {
	MaxTurns    int      `split_words:"true" default:"15"`
	Menu        []string `default:"Pizza: $0.15,Burger: $0.12,Pasta: $0.13,Salad: $0.10,Sandwich: $0.11"`
	Items       []string `split_words:"true"`
	MaxDiscount int      `split_words:"true" default:"10"`
}

var DefaultConfig = Config{
	MaxTurns:    15,
	Menu:        []string{"Pizza: $0.15", "Burger: $0.12", "Pasta: $0.13", "Salad: $0.10", "Sandwich: $0.11"},
	MaxDiscount: 10,
}

// MenuText renders the menu as the bullet list handed to the platform agent.
func (c Config) MenuText() string {
	lines := make([]string, 0, len(c.Menu))
	for _, entry := range c.Menu {
		if entry = strings.TrimSpace(entry); entry != "" {
			lines = append(lines, "- "+entry)
		}
	}
	return strings.Join(lines, "\n")
}

// Vocabulary is the closed item list used for extraction. Explicit Items win;
// otherwise the names before ':' in each menu entry are used.
func (c Config) Vocabulary() []string {
	src := c.Items
	if len(src) == 0 {
		src = make([]string, 0, len(c.Menu))
		for _, entry := range c.Menu {
			name, _, _ := strings.Cut(entry, ":")
			src = append(src, name)
		}
	}
	out := make([]string, 0, len(src))
	seen := map[string]bool{}
	for _, item := range src {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
