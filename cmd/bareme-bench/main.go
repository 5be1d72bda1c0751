// Benchmark tool for testing bareme against a pricing scenario file.
//
// Usage:
//   go run cmd/bareme-bench/main.go -csv /path/to/scenarios.csv -url http://localhost:8080
//
// This tool:
//   1. Reads pricing scenarios (member profiles with expected amounts)
//   2. Sends each scenario to bareme as a preview computation
//   3. Compares the computed final amount with the expected amount
//   4. Reports accuracy, latency and throughput
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

// Scenario represents a row from the scenario dataset.
type Scenario struct {
	TariffID            string
	FeeTypeID           string
	StructureID         string
	Municipality        string
	IncomeIndex         string
	SiblingRank         int
	StatusTags          []string
	Disability          bool
	BirthDate           string
	FirstMembershipDate string
	ExpectedAmount      string
}

// ComputeRequest is the bareme API request format.
type ComputeRequest struct {
	TariffID    string         `json:"tariffId"`
	FeeTypeID   string         `json:"feeTypeId"`
	StructureID string         `json:"structureId,omitempty"`
	Profile     map[string]any `json:"profile"`
	Context     map[string]any `json:"context,omitempty"`
}

// ComputeResponse is the subset of the bareme API response we check.
type ComputeResponse struct {
	ID          string `json:"id"`
	BaseAmount  string `json:"baseAmount"`
	FinalAmount string `json:"finalAmount"`
	Applied     []struct {
		SourceType string `json:"sourceType"`
		Label      string `json:"label"`
		Reduction  string `json:"reduction"`
	} `json:"applied"`
	Warnings []string `json:"warnings"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	Matches        int64 // Computed amount equals expected
	Mismatches     int64 // Computed amount differs from expected
	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to scenario CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "bareme base URL")
	orgID := flag.String("org", "benchmark-test", "Organization ID for requests")
	limit := flag.Int("limit", 10000, "Maximum scenarios to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each scenario result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: bareme-bench -csv /path/to/scenarios.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          BAREME BENCHMARK - Pricing Scenarios                 ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("bareme URL:  %s\n", *baseURL)
	fmt.Printf("Org ID:      %s\n", *orgID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check bareme is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: bareme not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure bareme is running:")
		fmt.Println("  go run cmd/bareme/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ bareme is healthy")

	// Read scenario data
	fmt.Printf("\nReading scenarios from %s...\n", *csvPath)
	scenarios, err := readScenarioCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d scenarios\n", len(scenarios))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(scenarios, *baseURL, *orgID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
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

func readScenarioCSV(path string, limit int) ([]Scenario, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	col := func(record []string, name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var scenarios []Scenario

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		rank, _ := strconv.Atoi(col(record, "sibling_rank"))

		var tags []string
		if raw := col(record, "status_tags"); raw != "" {
			tags = strings.Split(raw, "|")
		}

		s := Scenario{
			TariffID:            col(record, "tariff_id"),
			FeeTypeID:           col(record, "fee_type_id"),
			StructureID:         col(record, "structure_id"),
			Municipality:        col(record, "municipality"),
			IncomeIndex:         col(record, "income_index"),
			SiblingRank:         rank,
			StatusTags:          tags,
			Disability:          col(record, "disability") == "1",
			BirthDate:           col(record, "birth_date"),
			FirstMembershipDate: col(record, "first_membership_date"),
			ExpectedAmount:      col(record, "expected_amount"),
		}

		scenarios = append(scenarios, s)

		if limit > 0 && len(scenarios) >= limit {
			break
		}
	}

	return scenarios, nil
}

func runBenchmark(scenarios []Scenario, baseURL, orgID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan Scenario, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for s := range work {
				start := time.Now()
				result, err := computeFee(client, baseURL, orgID, s)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s/%s -> %v\n", s.TariffID, s.FeeTypeID, err)
					}
					continue
				}

				match := amountsEqual(result.FinalAmount, s.ExpectedAmount)
				if match {
					atomic.AddInt64(&metrics.Matches, 1)
				} else {
					atomic.AddInt64(&metrics.Mismatches, 1)
				}

				if verbose {
					status := "✓"
					if !match {
						status = "✗"
					}
					fmt.Printf("%s %-12s | Fee: %-10s | Expected: %10s | Got: %10s | Reductions: %d\n",
						status,
						s.TariffID,
						s.FeeTypeID,
						s.ExpectedAmount,
						result.FinalAmount,
						len(result.Applied),
					)
				}
			}
		}()
	}

	// Send work
	for _, s := range scenarios {
		work <- s
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

// amountsEqual compares decimal strings numerically so "288" matches
// "288.00".
func amountsEqual(a, b string) bool {
	fa, errA := strconv.ParseFloat(strings.Trim(a, `"`), 64)
	fb, errB := strconv.ParseFloat(strings.Trim(b, `"`), 64)
	if errA != nil || errB != nil {
		return strings.Trim(a, `"`) == strings.Trim(b, `"`)
	}
	diff := fa - fb
	return diff < 0.005 && diff > -0.005
}

func computeFee(client *http.Client, baseURL, orgID string, s Scenario) (*ComputeResponse, error) {
	profile := map[string]any{
		"residenceMunicipality": s.Municipality,
		"siblingRank":           s.SiblingRank,
		"disability":            s.Disability,
	}
	if len(s.StatusTags) > 0 {
		profile["statusTags"] = s.StatusTags
	}
	if s.IncomeIndex != "" {
		profile["incomeIndex"] = s.IncomeIndex
	}
	if s.BirthDate != "" {
		profile["birthDate"] = s.BirthDate + "T00:00:00Z"
	}
	if s.FirstMembershipDate != "" {
		profile["firstMembershipDate"] = s.FirstMembershipDate + "T00:00:00Z"
	}

	req := ComputeRequest{
		TariffID:    s.TariffID,
		FeeTypeID:   s.FeeTypeID,
		StructureID: s.StructureID,
		Profile:     profile,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/fees/compute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Org-ID", orgID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ComputeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Matches:          %d\n", m.Matches)
	fmt.Printf("   Mismatches:       %d\n", m.Mismatches)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	accuracy := float64(0)
	if m.Matches+m.Mismatches > 0 {
		accuracy = float64(m.Matches) / float64(m.Matches+m.Mismatches)
	}

	fmt.Printf("\n🎯 PRICING ACCURACY\n")
	fmt.Printf("   Accuracy:   %.4f  (computed amount equals expected)\n", accuracy)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f computations/sec\n", tps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if accuracy >= 0.999 {
		fmt.Println("   ✅ All computed amounts match the expected configuration")
	} else if accuracy >= 0.95 {
		fmt.Println("   ⚠️  A few mismatches - check recent rule or bracket changes")
	} else {
		fmt.Println("   ❌ Many mismatches - configuration likely diverged from expectations")
	}

	fmt.Println()
}
