package contract

type Role string

const (
	RoleBuyer    Role = "buyer"
	RolePlatform Role = "platform"
)

type ConversationTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
	Seq  int    `json:"seq"`
}

// AgreementState is frozen once the buyer signals agreement. Item and Price
// are best-effort; Price is only set when Agreed is true.
type AgreementState struct {
	Agreed bool     `json:"agreed"`
	Item   string   `json:"item,omitempty"`
	Price  *float64 `json:"price,omitempty"`
}

// ToolInvocation is created on invocation start and receives its result at
// most once.
type ToolInvocation struct {
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name"`
	Input  map[string]any `json:"input,omitempty"`
	Result *string        `json:"result,omitempty"`
}

func (t ToolInvocation) ResultText() string {
	if t.Result == nil {
		return ""
	}
	return *t.Result
}

type AgentTurnResult struct {
	ResponseText    string           `json:"response_text"`
	ToolInvocations []ToolInvocation `json:"tool_invocations,omitempty"`
	SawError        bool             `json:"saw_error,omitempty"`
}

func (r AgentTurnResult) ToolNames() []string {
	names := make([]string, 0, len(r.ToolInvocations))
	for _, inv := range r.ToolInvocations {
		names = append(names, inv.Name)
	}
	return names
}

// PaymentRequest is immutable once built. Item is optional context for the
// directive when the payment settles a negotiated order.
type PaymentRequest struct {
	Amount           float64 `json:"amount"`
	RecipientAddress string  `json:"recipient_address"`
	Memo             string  `json:"memo"`
	Item             string  `json:"item,omitempty"`
}

// Evidence names the signal a payment verdict was based on.
type Evidence string

const (
	EvidenceTransactionID  Evidence = "transaction_id_with_token"
	EvidenceTransferCalled Evidence = "transfer_invoked"
	EvidenceTextHeuristic  Evidence = "text_heuristic"
	EvidenceNone           Evidence = "none"
)

type PaymentOutcome struct {
	Success         bool             `json:"success"`
	TransactionID   string           `json:"transaction_id,omitempty"`
	Message         string           `json:"message"`
	ToolInvocations []ToolInvocation `json:"tool_invocations,omitempty"`
	Evidence        Evidence         `json:"evidence"`
	Attempts        int              `json:"attempts"`
}

func (o PaymentOutcome) ToolNames() []string {
	return AgentTurnResult{ToolInvocations: o.ToolInvocations}.ToolNames()
}
