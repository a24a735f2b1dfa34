package detect

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opensource-finance/ringscan/internal/domain"
)

func tx(from, to string, amount float64) domain.Transaction {
	return domain.Transaction{
		ID:         fmt.Sprintf("%s-%s-%v", from, to, amount),
		SenderID:   from,
		ReceiverID: to,
		Amount:     amount,
	}
}

func TestFanInFanOut(t *testing.T) {
	t.Run("FanInAtThreshold", func(t *testing.T) {
		var txs []domain.Transaction
		for i := 0; i < 10; i++ {
			txs = append(txs, tx(fmt.Sprintf("S%02d", i), "X", 100))
		}

		got := FanInFanOut(txs, 10)

		assert.Equal(t, []string{"X"}, got.FanIn)
		assert.Empty(t, got.FanOut)
	})

	t.Run("DuplicateSendersCountOnce", func(t *testing.T) {
		var txs []domain.Transaction
		for i := 0; i < 9; i++ {
			txs = append(txs, tx(fmt.Sprintf("S%02d", i), "X", 100))
			txs = append(txs, tx(fmt.Sprintf("S%02d", i), "X", 50))
		}

		got := FanInFanOut(txs, 10)

		assert.Empty(t, got.FanIn)
	})

	t.Run("FanOutAndBothLists", func(t *testing.T) {
		var txs []domain.Transaction
		for i := 0; i < 10; i++ {
			txs = append(txs, tx("H", fmt.Sprintf("R%02d", i), 10))
			txs = append(txs, tx(fmt.Sprintf("S%02d", i), "H", 10))
		}

		got := FanInFanOut(txs, 10)

		assert.Equal(t, []string{"H"}, got.FanOut)
		assert.Equal(t, []string{"H"}, got.FanIn)
	})

	t.Run("FirstAppearanceOrder", func(t *testing.T) {
		var txs []domain.Transaction
		for i := 0; i < 3; i++ {
			txs = append(txs, tx(fmt.Sprintf("S%d", i), "Z", 1))
			txs = append(txs, tx(fmt.Sprintf("S%d", i), "A", 1))
		}

		got := FanInFanOut(txs, 3)

		assert.Equal(t, []string{"Z", "A"}, got.FanIn)
	})
}

func TestShellAccounts(t *testing.T) {
	tests := []struct {
		name string
		txs  []domain.Transaction
		want []string
	}{
		{
			name: "PassThrough",
			txs:  []domain.Transaction{tx("A", "S", 100), tx("S", "B", 95)},
			want: []string{"S"},
		},
		{
			name: "ThreeTransactionsStillShell",
			txs:  []domain.Transaction{tx("A", "S", 100), tx("C", "S", 5), tx("S", "B", 95)},
			want: []string{"S"},
		},
		{
			name: "FourTransactionsTooActive",
			txs: []domain.Transaction{
				tx("A", "S", 100), tx("C", "S", 5), tx("S", "B", 95), tx("S", "D", 5),
			},
			want: nil,
		},
		{
			name: "ReceiveOnly",
			txs:  []domain.Transaction{tx("A", "S", 100)},
			want: nil,
		},
		{
			name: "Empty",
			txs:  nil,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShellAccounts(tt.txs, 3))
		})
	}
}

func TestHighVelocity(t *testing.T) {
	txs := []domain.Transaction{
		tx("B", "X", 1),
		tx("A", "X", 1), tx("A", "Y", 1), tx("A", "Z", 1), tx("A", "X", 1),
		tx("B", "Y", 1), tx("B", "Z", 1),
	}

	assert.Equal(t, []string{"A"}, HighVelocity(txs, 4))
	assert.Equal(t, []string{"B", "A"}, HighVelocity(txs, 3))
	assert.Empty(t, HighVelocity(nil, 4))
}

func TestAmountAnomalies(t *testing.T) {
	t.Run("FlagsOutlierSender", func(t *testing.T) {
		var txs []domain.Transaction
		for i := 0; i < 20; i++ {
			txs = append(txs, tx(fmt.Sprintf("N%02d", i), "R", 100))
		}
		txs = append(txs, tx("BIG", "R", 10000))

		assert.Equal(t, []string{"BIG"}, AmountAnomalies(txs, 2))
	})

	t.Run("SenderListedPerTransaction", func(t *testing.T) {
		var txs []domain.Transaction
		for i := 0; i < 40; i++ {
			txs = append(txs, tx(fmt.Sprintf("N%02d", i), "R", 10))
		}
		txs = append(txs, tx("BIG", "R", 5000), tx("BIG", "Q", 5000))

		assert.Equal(t, []string{"BIG", "BIG"}, AmountAnomalies(txs, 2))
	})

	t.Run("ZeroVarianceFlagsNothing", func(t *testing.T) {
		txs := []domain.Transaction{tx("A", "B", 50), tx("B", "C", 50), tx("C", "A", 50)}
		assert.Empty(t, AmountAnomalies(txs, 2))
	})

	t.Run("SingleTransaction", func(t *testing.T) {
		assert.Empty(t, AmountAnomalies([]domain.Transaction{tx("A", "B", 50)}, 2))
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, AmountAnomalies(nil, 2))
	})
}
