package detect

import "github.com/opensource-finance/ringscan/internal/domain"

// ShellAccounts flags pass-through accounts: at least one incoming and one
// outgoing transaction, with no more than maxActivity transactions overall.
func ShellAccounts(txs []domain.Transaction, maxActivity int) []string {
	type activity struct{ in, out int }

	var order []string
	counts := make(map[string]*activity)
	get := func(account string) *activity {
		a, ok := counts[account]
		if !ok {
			a = &activity{}
			counts[account] = a
			order = append(order, account)
		}
		return a
	}

	for _, tx := range txs {
		get(tx.SenderID).out++
		get(tx.ReceiverID).in++
	}

	var shells []string
	for _, account := range order {
		a := counts[account]
		if a.in > 0 && a.out > 0 && a.in+a.out <= maxActivity {
			shells = append(shells, account)
		}
	}
	return shells
}
