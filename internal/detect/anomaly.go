package detect

import (
	"math"

	"github.com/opensource-finance/ringscan/internal/domain"
)

// AmountAnomalies returns the sender of every transaction whose amount lies at
// least zThreshold population standard deviations above the batch mean. A
// sender appears once per anomalous transaction.
//
// A batch with zero variance (including an empty or single-transaction batch)
// has no anomalies.
func AmountAnomalies(txs []domain.Transaction, zThreshold float64) []string {
	mean, std := amountStats(txs)
	if std == 0 {
		return nil
	}

	var senders []string
	for _, tx := range txs {
		if (tx.Amount-mean)/std >= zThreshold {
			senders = append(senders, tx.SenderID)
		}
	}
	return senders
}

// amountStats returns the mean and population standard deviation of amounts.
func amountStats(txs []domain.Transaction) (mean, std float64) {
	if len(txs) == 0 {
		return 0, 0
	}

	n := float64(len(txs))
	for _, tx := range txs {
		mean += tx.Amount
	}
	mean /= n

	var variance float64
	for _, tx := range txs {
		d := tx.Amount - mean
		variance += d * d
	}
	variance /= n

	return mean, math.Sqrt(variance)
}
