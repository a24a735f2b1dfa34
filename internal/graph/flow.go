package graph

import "github.com/opensource-finance/ringscan/internal/domain"

// ComputeFlowMetrics aggregates incoming and outgoing totals per account.
// TransactionCount grows by one per role occurrence, so a self-transfer
// counts twice. Accounts absent from the batch are absent from the result.
func ComputeFlowMetrics(txs []domain.Transaction) map[string]domain.FlowMetrics {
	metrics := make(map[string]domain.FlowMetrics)

	for _, tx := range txs {
		sender := metrics[tx.SenderID]
		sender.OutgoingTotal += tx.Amount
		sender.TransactionCount++
		metrics[tx.SenderID] = sender

		receiver := metrics[tx.ReceiverID]
		receiver.IncomingTotal += tx.Amount
		receiver.TransactionCount++
		metrics[tx.ReceiverID] = receiver
	}

	for id, m := range metrics {
		m.NetFlow = m.IncomingTotal - m.OutgoingTotal
		metrics[id] = m
	}

	return metrics
}
