package payment

import (
	"regexp"
	"strings"

	contractx "github.com/tanpawarit/agentpay/agent/contract"
	"github.com/tanpawarit/agentpay/agent/txid"
)

// successToken matches the words an agent uses when it reports a completed
// or accepted transfer. It is a free-text heuristic: "unsuccessful" does not
// match, but "not a success" does.
var successToken = regexp.MustCompile(`(?i)\bsuccess\w*|\bqueued\b|\btransaction id\b`)

// HasSuccessToken reports whether text claims success in words.
func HasSuccessToken(text string) bool {
	return successToken.MatchString(text)
}

// verdict is the result of judging one attempt.
type verdict struct {
	ok            bool
	transactionID string
	evidence      contractx.Evidence
}

// transferMatcher recognises invocations of the transfer capability, whether
// reported under the namespaced name or the bare network name.
type transferMatcher struct {
	qualified string
	bare      string
}

func newTransferMatcher(tool string) transferMatcher {
	bare := tool
	if i := strings.LastIndex(tool, "__"); i >= 0 {
		bare = tool[i+2:]
	}
	return transferMatcher{qualified: tool, bare: bare}
}

func (m transferMatcher) matches(name string) bool {
	if name == "" {
		return false
	}
	return name == m.qualified || name == m.bare || strings.HasSuffix(name, "__"+m.bare)
}

// ruleTransactionID is rule (a): an identifier in the response text backed by
// a success token in the same text.
func ruleTransactionID(text string) (verdict, bool) {
	id, ok := txid.Extract(text)
	if !ok || !HasSuccessToken(text) {
		return verdict{}, false
	}
	return verdict{ok: true, transactionID: id, evidence: contractx.EvidenceTransactionID}, true
}

// ruleTransferInvoked is rule (b): the transfer capability shows up in the
// invocation list. The identifier is read from the last transfer result, then
// from the response text; it may stay empty.
func ruleTransferInvoked(m transferMatcher, invocations []contractx.ToolInvocation, text string) (verdict, bool) {
	var transfer *contractx.ToolInvocation
	for i := range invocations {
		if m.matches(invocations[i].Name) {
			transfer = &invocations[i]
		}
	}
	if transfer == nil {
		return verdict{}, false
	}
	id, ok := txid.Extract(transfer.ResultText())
	if !ok {
		id, _ = txid.Extract(text)
	}
	return verdict{ok: true, transactionID: id, evidence: contractx.EvidenceTransferCalled}, true
}

// judge applies rules (a) then (b).
func judge(m transferMatcher, invocations []contractx.ToolInvocation, text string) verdict {
	if v, ok := ruleTransactionID(text); ok {
		return v
	}
	if v, ok := ruleTransferInvoked(m, invocations, text); ok {
		return v
	}
	return verdict{evidence: contractx.EvidenceNone}
}

// textFallback is the last-resort heuristic applied after the retry. It never
// yields an identifier.
func textFallback(allowed bool, text string) (verdict, bool) {
	if !allowed || !HasSuccessToken(text) {
		return verdict{}, false
	}
	return verdict{ok: true, evidence: contractx.EvidenceTextHeuristic}, true
}
