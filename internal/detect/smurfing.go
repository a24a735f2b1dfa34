// Package detect holds the transaction-level laundering heuristics. Every
// detector is a pure function of the batch and returns accounts in the order
// they first appear in it.
package detect

import "github.com/opensource-finance/ringscan/internal/domain"

// FanInFanOut flags smurfing: accounts receiving from at least threshold
// distinct senders (fan-in) and accounts sending to at least threshold
// distinct receivers (fan-out). Repeat transfers between the same pair count
// once. An account may be in both lists.
func FanInFanOut(txs []domain.Transaction, threshold int) domain.PatternSet {
	senders := newCounterparties()
	receivers := newCounterparties()

	for _, tx := range txs {
		senders.add(tx.ReceiverID, tx.SenderID)
		receivers.add(tx.SenderID, tx.ReceiverID)
	}

	return domain.PatternSet{
		FanIn:  senders.atLeast(threshold),
		FanOut: receivers.atLeast(threshold),
	}
}

// counterparties tracks the distinct counterparties of each account,
// remembering the order accounts were first seen.
type counterparties struct {
	order []string
	sets  map[string]map[string]struct{}
}

func newCounterparties() *counterparties {
	return &counterparties{sets: make(map[string]map[string]struct{})}
}

func (c *counterparties) add(account, counterparty string) {
	set, ok := c.sets[account]
	if !ok {
		set = make(map[string]struct{})
		c.sets[account] = set
		c.order = append(c.order, account)
	}
	set[counterparty] = struct{}{}
}

func (c *counterparties) atLeast(threshold int) []string {
	var flagged []string
	for _, account := range c.order {
		if len(c.sets[account]) >= threshold {
			flagged = append(flagged, account)
		}
	}
	return flagged
}
