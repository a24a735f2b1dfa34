// Benchmark tool for measuring ringscan against PaySim fraud data.
//
// Usage:
//   go run ./cmd/benchmark -csv /path/to/paysim.csv -url http://localhost:8080
//
// This tool:
//   1. Reads PaySim transaction data (with fraud labels)
//   2. Splits it into ledger batches and uploads each one to POST /analyze
//   3. Compares the flagged accounts with the accounts touched by fraud
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// PaySimTransaction represents a row from the PaySim dataset
type PaySimTransaction struct {
	Step     int
	Type     string
	Amount   float64
	NameOrig string
	NameDest string
	IsFraud  bool
}

// AnalyzeResponse is the subset of the ringscan report the benchmark reads
type AnalyzeResponse struct {
	AnalysisID         string `json:"analysis_id"`
	SuspiciousAccounts []struct {
		AccountID      string  `json:"account_id"`
		SuspicionScore float64 `json:"suspicion_score"`
	} `json:"suspicious_accounts"`
	Summary struct {
		TotalAccountsAnalyzed int     `json:"total_accounts_analyzed"`
		FraudRingsDetected    int     `json:"fraud_rings_detected"`
		ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	} `json:"summary"`
}

// Metrics tracks benchmark results at account level
type Metrics struct {
	TruePositives  int64 // Fraud account flagged
	FalsePositives int64 // Clean account flagged
	TrueNegatives  int64 // Clean account not flagged
	FalseNegatives int64 // Fraud account missed

	Batches        int64
	TotalAccounts  int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64
	RingsDetected  int64
	ProcessingTime int64 // milliseconds, server side
	RequestTime    int64 // milliseconds, round trip
}

func main() {
	csvPath := flag.String("csv", "", "Path to PaySim CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "ringscan base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	batchSize := flag.Int("batch", 1000, "Transactions per uploaded ledger")
	workers := flag.Int("workers", 4, "Number of concurrent uploads")
	minScore := flag.Float64("min-score", 0, "Suspicion score at or above which an account counts as flagged")
	verbose := flag.Bool("verbose", false, "Print each batch result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/paysim.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *batchSize <= 0 {
		*batchSize = 1000
	}

	fmt.Println("RINGSCAN BENCHMARK - PaySim ledgers")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("URL:         %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Batch Size:  %d\n", *batchSize)
	fmt.Printf("Min Score:   %.2f\n", *minScore)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: ringscan not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure ringscan is running:")
		fmt.Println("  go run ./cmd/ringscan serve")
		os.Exit(1)
	}
	fmt.Println("ringscan is healthy")

	fmt.Printf("\nReading PaySim data from %s...\n", *csvPath)
	transactions, err := readPaySimCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions\n", len(transactions))

	batches := splitBatches(transactions, *batchSize)
	fmt.Printf("\nRunning benchmark: %d batches, %d workers...\n", len(batches), *workers)
	startTime := time.Now()
	metrics := runBenchmark(batches, *baseURL, *workers, *minScore, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readPaySimCSV(path string, limit int) ([]PaySimTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}
	for _, col := range []string{"step", "type", "amount", "nameorig", "namedest", "isfraud"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var transactions []PaySimTransaction
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		step, _ := strconv.Atoi(record[colIndex["step"]])
		amount, _ := strconv.ParseFloat(record[colIndex["amount"]], 64)

		transactions = append(transactions, PaySimTransaction{
			Step:     step,
			Type:     record[colIndex["type"]],
			Amount:   amount,
			NameOrig: record[colIndex["nameorig"]],
			NameDest: record[colIndex["namedest"]],
			IsFraud:  record[colIndex["isfraud"]] == "1",
		})

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

func splitBatches(transactions []PaySimTransaction, size int) [][]PaySimTransaction {
	var batches [][]PaySimTransaction
	for start := 0; start < len(transactions); start += size {
		end := min(start+size, len(transactions))
		batches = append(batches, transactions[start:end])
	}
	return batches
}

// toLedger renders a batch in the ledger upload format. PaySim steps are
// hours since the start of the simulation.
func toLedger(batch []PaySimTransaction) ([]byte, error) {
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"transaction_id", "sender_id", "receiver_id", "amount", "timestamp"}); err != nil {
		return nil, err
	}
	for i, tx := range batch {
		ts := epoch.Add(time.Duration(tx.Step) * time.Hour).Format("2006-01-02 15:04:05")
		if err := w.Write([]string{
			fmt.Sprintf("%s-%d-%d", tx.Type, tx.Step, i),
			tx.NameOrig,
			tx.NameDest,
			strconv.FormatFloat(tx.Amount, 'f', 2, 64),
			ts,
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// fraudAccounts returns every account in the batch with its ground truth label.
// An account is fraudulent when it sent or received a fraudulent transaction.
func fraudAccounts(batch []PaySimTransaction) map[string]bool {
	labels := make(map[string]bool)
	for _, tx := range batch {
		labels[tx.NameOrig] = labels[tx.NameOrig] || tx.IsFraud
		labels[tx.NameDest] = labels[tx.NameDest] || tx.IsFraud
	}
	return labels
}

func runBenchmark(batches [][]PaySimTransaction, baseURL string, numWorkers int, minScore float64, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan []PaySimTransaction, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 5 * time.Minute}

			for batch := range work {
				start := time.Now()
				result, err := analyzeBatch(client, baseURL, batch)
				atomic.AddInt64(&metrics.RequestTime, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.Batches, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: batch of %d -> %v\n", len(batch), err)
					}
					continue
				}

				atomic.AddInt64(&metrics.ProcessingTime, int64(result.Summary.ProcessingTimeSeconds*1000))
				atomic.AddInt64(&metrics.RingsDetected, int64(result.Summary.FraudRingsDetected))

				flagged := make(map[string]bool, len(result.SuspiciousAccounts))
				for _, acc := range result.SuspiciousAccounts {
					if acc.SuspicionScore >= minScore {
						flagged[acc.AccountID] = true
					}
				}

				var tp, fp int
				for account, actual := range fraudAccounts(batch) {
					predicted := flagged[account]
					atomic.AddInt64(&metrics.TotalAccounts, 1)
					if actual {
						atomic.AddInt64(&metrics.TotalFraud, 1)
					} else {
						atomic.AddInt64(&metrics.TotalNonFraud, 1)
					}

					switch {
					case predicted && actual:
						tp++
						atomic.AddInt64(&metrics.TruePositives, 1)
					case predicted && !actual:
						fp++
						atomic.AddInt64(&metrics.FalsePositives, 1)
					case !predicted && !actual:
						atomic.AddInt64(&metrics.TrueNegatives, 1)
					default:
						atomic.AddInt64(&metrics.FalseNegatives, 1)
					}
				}

				if verbose {
					fmt.Printf("%s | txs: %6d | flagged: %5d | rings: %3d | TP: %4d | FP: %5d | %.3fs\n",
						result.AnalysisID,
						len(batch),
						len(flagged),
						result.Summary.FraudRingsDetected,
						tp,
						fp,
						result.Summary.ProcessingTimeSeconds,
					)
				}
			}
		}()
	}

	for _, batch := range batches {
		work <- batch
	}
	close(work)

	wg.Wait()

	return metrics
}

func analyzeBatch(client *http.Client, baseURL string, batch []PaySimTransaction) (*AnalyzeResponse, error) {
	body, err := toLedger(batch)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "text/csv")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Batches:          %d\n", m.Batches)
	fmt.Printf("   Accounts:         %d\n", m.TotalAccounts)
	fmt.Printf("   Fraud Accounts:   %d\n", m.TotalFraud)
	fmt.Printf("   Clean Accounts:   %d\n", m.TotalNonFraud)
	fmt.Printf("   Rings Detected:   %d\n", m.RingsDetected)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  FLAGGED     CLEAN")
	fmt.Printf("   Actual  F  | %8d | %8d |  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF  | %8d | %8d |  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged accounts, how many touched fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud accounts, how many were flagged)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.Batches > 0 {
		fmt.Printf("   Avg Round Trip:   %.2f ms/batch\n", float64(m.RequestTime)/float64(m.Batches))
		fmt.Printf("   Avg Analysis:     %.2f ms/batch\n", float64(m.ProcessingTime)/float64(m.Batches))
		fmt.Printf("   Throughput:       %.2f batches/sec\n", float64(m.Batches)/duration.Seconds())
	}

	fmt.Println()
}
