package domain

// Transaction is a single ledger record moving Amount from SenderID to ReceiverID.
// Records are validated by ingestion and never mutated afterwards.
type Transaction struct {
	ID         string  `json:"transaction_id"`
	SenderID   string  `json:"sender_id"`
	ReceiverID string  `json:"receiver_id"`
	Amount     float64 `json:"amount"`
	Timestamp  string  `json:"timestamp"`
}
