package detect

import "github.com/opensource-finance/ringscan/internal/domain"

// HighVelocity flags accounts that sent at least minOutgoing transactions in
// the batch. Timestamps are not consulted: the batch is the window.
func HighVelocity(txs []domain.Transaction, minOutgoing int) []string {
	var order []string
	counts := make(map[string]int)

	for _, tx := range txs {
		if _, ok := counts[tx.SenderID]; !ok {
			order = append(order, tx.SenderID)
		}
		counts[tx.SenderID]++
	}

	var flagged []string
	for _, account := range order {
		if counts[account] >= minOutgoing {
			flagged = append(flagged, account)
		}
	}
	return flagged
}
