package server

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	contractx "github.com/tanpawarit/agentpay/agent/contract"
)

const paymentRequestSchema = `{
  "type": "object",
  "required": ["amount", "recipient_address"],
  "properties": {
    "amount": { "type": "number", "exclusiveMinimum": 0 },
    "recipient_address": { "type": "string", "minLength": 1, "pattern": "\\S" },
    "memo": { "type": "string" },
    "recipient": { "type": "string" }
  }
}`

var (
	paymentSchemaOnce sync.Once
	paymentSchema     *jsonschema.Schema
	paymentSchemaErr  error
)

func compiledPaymentSchema() (*jsonschema.Schema, error) {
	paymentSchemaOnce.Do(func() {
		paymentSchema, paymentSchemaErr = jsonschema.CompileString("payment_request.json", paymentRequestSchema)
	})
	return paymentSchema, paymentSchemaErr
}

type paymentBody struct {
	Amount           float64 `json:"amount"`
	RecipientAddress string  `json:"recipient_address"`
	Memo             string  `json:"memo"`
	Recipient        string  `json:"recipient"`
}

// decodePaymentBody validates raw against the request schema before binding
// it, so type errors surface as schema violations.
func decodePaymentBody(raw []byte) (paymentBody, error) {
	schema, err := compiledPaymentSchema()
	if err != nil {
		return paymentBody{}, fmt.Errorf("compile payment schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return paymentBody{}, fmt.Errorf("%w: body is not valid JSON", contractx.ErrValidation)
	}
	if err := schema.Validate(doc); err != nil {
		return paymentBody{}, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}

	var body paymentBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return paymentBody{}, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}
	return body, nil
}
