// Package ingest turns uploaded ledger files into transactions.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/ringscan/internal/domain"
)

var (
	// ErrMissingColumn is returned when the header lacks a required column.
	ErrMissingColumn = errors.New("missing required column")

	// ErrInvalidRecord is returned for a row that cannot become a transaction.
	ErrInvalidRecord = errors.New("invalid record")
)

// Columns lists the header names every ledger file must carry.
var Columns = []string{"transaction_id", "sender_id", "receiver_id", "amount", "timestamp"}

// ParseCSV reads a ledger with a header row. Columns may appear in any order
// and unknown columns are ignored. A file holding only the header yields an
// empty, non-nil batch.
func ParseCSV(r io.Reader) ([]domain.Transaction, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	idx, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	txs := make([]domain.Transaction, 0)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidRecord, line, err)
		}

		tx, err := parseRecord(record, idx)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %s", ErrInvalidRecord, line, err)
		}
		txs = append(txs, tx)
	}

	return txs, nil
}

type columns struct {
	id, sender, receiver, amount, timestamp int
}

func columnIndex(header []string) (columns, error) {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, seen := pos[name]; !seen {
			pos[name] = i
		}
	}

	var missing []string
	for _, c := range Columns {
		if _, ok := pos[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return columns{}, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	return columns{
		id:        pos["transaction_id"],
		sender:    pos["sender_id"],
		receiver:  pos["receiver_id"],
		amount:    pos["amount"],
		timestamp: pos["timestamp"],
	}, nil
}

func parseRecord(record []string, c columns) (domain.Transaction, error) {
	field := func(i int) string {
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	tx := domain.Transaction{
		ID:         field(c.id),
		SenderID:   field(c.sender),
		ReceiverID: field(c.receiver),
		Timestamp:  field(c.timestamp),
	}
	if tx.SenderID == "" {
		return tx, errors.New("sender_id is required")
	}
	if tx.ReceiverID == "" {
		return tx, errors.New("receiver_id is required")
	}

	raw := field(c.amount)
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return tx, fmt.Errorf("amount %q is not a number", raw)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return tx, fmt.Errorf("amount %q is not finite", raw)
	}
	tx.Amount = amount

	return tx, nil
}
