package transaction

import "time"

// Transaction is the canonical input model for an authorization request.
// It is constructed once per request and read-only through the pipeline.
type Transaction struct {
	TransactionID        string            `json:"transaction_id"`
	TransactionType      string            `json:"transaction_type"` // "PURCHASE", "REFUND", etc.
	CardHash             string            `json:"card_hash"`
	Amount               float64           `json:"amount"`
	Currency             string            `json:"currency"`
	CountryCode          string            `json:"country_code"`
	MerchantCategoryCode string            `json:"merchant_category_code"`
	MerchantID           string            `json:"merchant_id"`
	OccurredAt           time.Time         `json:"occurred_at"`
	ReceivedAt           time.Time         `json:"-"`
	Attributes           map[string]any    `json:"attributes"` // arbitrary additional fields
	Meta                 map[string]string `json:"meta"`       // acquirer, channel, etc.
}

// Context materialises the transaction as a flat field-name map for
// condition evaluation. Compiled predicates run against the struct directly
// and never need this map, so callers build it lazily.
func (t *Transaction) Context() map[string]any {
	ctx := make(map[string]any, 9+len(t.Attributes))
	ctx["transaction_id"] = t.TransactionID
	ctx["transaction_type"] = t.TransactionType
	ctx["card_hash"] = t.CardHash
	ctx["amount"] = t.Amount
	ctx["currency"] = t.Currency
	ctx["country_code"] = t.CountryCode
	ctx["country"] = t.CountryCode
	ctx["merchant_category_code"] = t.MerchantCategoryCode
	ctx["merchant_id"] = t.MerchantID
	for k, v := range t.Attributes {
		ctx[k] = v
	}
	return ctx
}

// Field resolves a single attribute by name without building the full map.
func (t *Transaction) Field(name string) (any, bool) {
	switch name {
	case "transaction_id":
		return t.TransactionID, true
	case "transaction_type":
		return t.TransactionType, true
	case "card_hash":
		return t.CardHash, true
	case "amount":
		return t.Amount, true
	case "currency":
		return t.Currency, true
	case "country_code", "country":
		return t.CountryCode, true
	case "merchant_category_code":
		return t.MerchantCategoryCode, true
	case "merchant_id":
		return t.MerchantID, true
	}
	v, ok := t.Attributes[name]
	return v, ok
}
