// Benchmark tool for load-testing a running Kestrel instance.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -count 10000 -workers 10
//
// This tool:
//   1. Generates synthetic transactions across a pool of accounts
//   2. Sends each to Kestrel for evaluation
//   3. Reports throughput, latency percentiles, and the decision mix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EvaluateRequest is the Kestrel API request format.
type EvaluateRequest struct {
	TransactionID string  `json:"transactionId"`
	AccountID     string  `json:"accountId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Kind          string  `json:"kind"`
	Country       string  `json:"country"`
	City          string  `json:"city"`
}

// EvaluateResponse is the Kestrel API response format.
type EvaluateResponse struct {
	TransactionID string  `json:"transactionId"`
	RiskLevel     string  `json:"riskLevel"`
	Fraud         bool    `json:"fraud"`
	Score         float64 `json:"score"`
	Status        string  `json:"status"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	Total    int64
	Errors   int64
	Rejected int64 // 4xx responses (duplicates, blocked accounts)

	Low    int64
	Medium int64
	High   int64
}

var (
	kinds     = []string{"CARD", "TRANSFER", "ONLINE", "INTERNATIONAL", "WITHDRAWAL"}
	countries = []string{"IN", "US", "GB", "DE", "SG", "NG", "RU", "CN"}
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	count := flag.Int("count", 10000, "Number of transactions to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	accounts := flag.Int("accounts", 500, "Size of the synthetic account pool")
	maxAmount := flag.Float64("max-amount", 250000, "Maximum transaction amount")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Load Test          ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Count:       %d\n", *count)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Accounts:    %d\n", *accounts)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}

	var metrics Metrics
	latencies := make([]time.Duration, *count)

	jobs := make(chan int, *workers)
	var wg sync.WaitGroup

	client := &http.Client{Timeout: 30 * time.Second}
	start := time.Now()

	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))

			for i := range jobs {
				req := randomTransaction(rng, *accounts, *maxAmount)

				reqStart := time.Now()
				resp, err := evaluate(client, *baseURL, req)
				latencies[i] = time.Since(reqStart)

				atomic.AddInt64(&metrics.Total, 1)
				if err != nil {
					atomic.AddInt64(&metrics.Errors, 1)
					continue
				}
				if resp == nil {
					atomic.AddInt64(&metrics.Rejected, 1)
					continue
				}

				switch resp.RiskLevel {
				case "LOW":
					atomic.AddInt64(&metrics.Low, 1)
				case "MEDIUM":
					atomic.AddInt64(&metrics.Medium, 1)
				case "HIGH":
					atomic.AddInt64(&metrics.High, 1)
				}
			}
		}()
	}

	for i := 0; i < *count; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(start)
	printResults(&metrics, latencies, elapsed)
}

func randomTransaction(rng *rand.Rand, accounts int, maxAmount float64) *EvaluateRequest {
	return &EvaluateRequest{
		TransactionID: uuid.New().String(),
		AccountID:     fmt.Sprintf("bench-acct-%d", rng.Intn(accounts)),
		Amount:        1 + rng.Float64()*maxAmount,
		Currency:      "INR",
		Kind:          kinds[rng.Intn(len(kinds))],
		Country:       countries[rng.Intn(len(countries))],
		City:          "Mumbai",
	}
}

// evaluate returns nil, nil for expected rejections (duplicate or blocked).
func evaluate(client *http.Client, baseURL string, req *EvaluateRequest) (*EvaluateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/transactions", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}

	var out EvaluateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func printResults(m *Metrics, latencies []time.Duration, elapsed time.Duration) {
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	percentile := func(p float64) time.Duration {
		if len(latencies) == 0 {
			return 0
		}
		idx := int(float64(len(latencies)-1) * p)
		return latencies[idx]
	}

	tps := float64(m.Total) / elapsed.Seconds()

	fmt.Println("\n═══════════════════ RESULTS ═══════════════════")
	fmt.Printf("Total:       %d in %s (%.1f tx/s)\n", m.Total, elapsed.Round(time.Millisecond), tps)
	fmt.Printf("Errors:      %d\n", m.Errors)
	fmt.Printf("Rejected:    %d (duplicates / blocked accounts)\n", m.Rejected)
	fmt.Println()
	fmt.Printf("Risk mix:    LOW=%d  MEDIUM=%d  HIGH=%d\n", m.Low, m.Medium, m.High)
	fmt.Println()
	fmt.Printf("Latency p50: %s\n", percentile(0.50).Round(time.Microsecond))
	fmt.Printf("Latency p95: %s\n", percentile(0.95).Round(time.Microsecond))
	fmt.Printf("Latency p99: %s\n", percentile(0.99).Round(time.Microsecond))
	fmt.Println("═══════════════════════════════════════════════")
}
