package negotiation

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	contractx "github.com/tanpawarit/agentpay/agent/contract"
)

// Agreement signals are matched on word boundaries so that words such as
// "looking" or "book" do not read as "ok".
var agreementPattern = regexp.MustCompile(`(?i)\b(?:agreed?|yes|proceed|okay|ok|sounds good)\b`)

var pricePattern = regexp.MustCompile(`\$(\d+(?:\.\d+)?)`)

// SignalsAgreement reports whether buyer text contains an agreement signal.
func SignalsAgreement(text string) bool {
	return agreementPattern.MatchString(text)
}

// ExtractPrice returns the first positive dollar amount in text.
func ExtractPrice(text string) (float64, bool) {
	m := pricePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// ItemMatcher finds the first menu item mentioned in text.
type ItemMatcher struct {
	re *regexp.Regexp
}

func NewItemMatcher(vocabulary []string) *ItemMatcher {
	if len(vocabulary) == 0 {
		return &ItemMatcher{}
	}
	quoted := make([]string, 0, len(vocabulary))
	for _, item := range vocabulary {
		quoted = append(quoted, regexp.QuoteMeta(item))
	}
	// Longer names first so "chicken burger" beats "burger".
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	return &ItemMatcher{re: regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)`)}
}

func (m *ItemMatcher) Find(text string) (string, bool) {
	if m == nil || m.re == nil {
		return "", false
	}
	match := m.re.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	return strings.ToLower(match[1]), true
}

// freeze builds the agreed state from the platform's latest offer.
func (m *ItemMatcher) freeze(platformText string) contractx.AgreementState {
	state := contractx.AgreementState{Agreed: true}
	if price, ok := ExtractPrice(platformText); ok {
		state.Price = &price
	}
	if item, ok := m.Find(platformText); ok {
		state.Item = item
	}
	return state
}
