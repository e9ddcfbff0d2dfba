// Benchmark tool for replaying credit applications against Kestrel.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/applications.csv -url http://localhost:8080
//
// This tool:
//  1. Reads applications from a CSV file (optionally labelled with default)
//  2. Sends each application to POST /score
//  3. Reports latency percentiles and the rating distribution
//  4. When labels are present, reports the observed default rate per rating
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Application is one CSV row in the API request format.
type Application struct {
	ApplicantID            string  `json:"applicantId,omitempty"`
	Age                    int     `json:"age"`
	Income                 float64 `json:"income"`
	LoanAmount             float64 `json:"loanAmount"`
	LoanTenureMonths       int     `json:"loanTenureMonths"`
	AvgDPDPerDelinquency   int     `json:"avgDpdPerDelinquency"`
	DelinquencyRatio       float64 `json:"delinquencyRatio"`
	CreditUtilizationRatio float64 `json:"creditUtilizationRatio"`
	NumberOfOpenAccounts   int     `json:"numberOfOpenAccounts"`
	ResidenceType          string  `json:"residenceType"`
	LoanPurpose            string  `json:"loanPurpose"`
	LoanType               string  `json:"loanType"`

	// Default is the observed outcome, when the file has a default column.
	Default  bool `json:"-"`
	Labelled bool `json:"-"`
}

// ScoreResponse is the subset of the Kestrel response the benchmark reads.
type ScoreResponse struct {
	Probability float64 `json:"probability"`
	CreditScore int     `json:"creditScore"`
	Rating      string  `json:"rating"`
	Status      string  `json:"status"`
}

// Results collects benchmark outcomes.
type Results struct {
	mu sync.Mutex

	Latencies []time.Duration
	Errors    int

	RatingCount    map[string]int
	RatingDefaults map[string]int
	RatingLabelled map[string]int
	Referred       int
}

func newResults() *Results {
	return &Results{
		RatingCount:    make(map[string]int),
		RatingDefaults: make(map[string]int),
		RatingLabelled: make(map[string]int),
	}
}

func (r *Results) record(app Application, resp *ScoreResponse, elapsed time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Latencies = append(r.Latencies, elapsed)
	if err != nil {
		r.Errors++
		return
	}

	r.RatingCount[resp.Rating]++
	if resp.Status == "REFER" {
		r.Referred++
	}
	if app.Labelled {
		r.RatingLabelled[resp.Rating]++
		if app.Default {
			r.RatingDefaults[resp.Rating]++
		}
	}
}

func main() {
	csvPath := flag.String("csv", "", "Path to applications CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum applications to send (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/applications.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Printf("CSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	apps, err := readApplications(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d applications\n", len(apps))

	start := time.Now()
	results := runBenchmark(apps, *baseURL, *workers, *verbose)
	printResults(results, time.Since(start))
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

var requiredColumns = []string{
	"age", "income", "loan_amount", "loan_tenure_months", "avg_dpd_per_delinquency",
	"delinquency_ratio", "credit_utilization_ratio", "number_of_open_accounts",
	"residence_type", "loan_purpose", "loan_type",
}

// readApplications parses a CSV with a header row. Column names are matched
// case-insensitively; optional columns are applicant_id and default.
func readApplications(r io.Reader, limit int) ([]Application, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	col := make(map[string]int)
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var apps []Application
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			continue // Skip malformed rows
		}

		p := rowParser{record: record, col: col}
		app := Application{
			Age:                    p.int("age"),
			Income:                 p.float("income"),
			LoanAmount:             p.float("loan_amount"),
			LoanTenureMonths:       p.int("loan_tenure_months"),
			AvgDPDPerDelinquency:   p.int("avg_dpd_per_delinquency"),
			DelinquencyRatio:       p.float("delinquency_ratio"),
			CreditUtilizationRatio: p.float("credit_utilization_ratio"),
			NumberOfOpenAccounts:   p.int("number_of_open_accounts"),
			ResidenceType:          p.string("residence_type"),
			LoanPurpose:            p.string("loan_purpose"),
			LoanType:               p.string("loan_type"),
			ApplicantID:            p.string("applicant_id"),
		}
		if v, ok := p.lookup("default"); ok {
			app.Labelled = true
			app.Default = v == "1" || strings.EqualFold(v, "true")
		}
		if p.err != nil {
			fmt.Printf("skipping line %d: %v\n", line, p.err)
			continue
		}

		apps = append(apps, app)
		if limit > 0 && len(apps) >= limit {
			break
		}
	}
	return apps, nil
}

type rowParser struct {
	record []string
	col    map[string]int
	err    error
}

func (p *rowParser) lookup(name string) (string, bool) {
	i, ok := p.col[name]
	if !ok || i >= len(p.record) {
		return "", false
	}
	return strings.TrimSpace(p.record[i]), true
}

func (p *rowParser) string(name string) string {
	v, _ := p.lookup(name)
	return v
}

func (p *rowParser) float(name string) float64 {
	v, _ := p.lookup(name)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", name, err)
	}
	return f
}

func (p *rowParser) int(name string) int {
	return int(p.float(name))
}

func runBenchmark(apps []Application, baseURL string, numWorkers int, verbose bool) *Results {
	results := newResults()

	work := make(chan Application, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for app := range work {
				start := time.Now()
				resp, err := score(client, baseURL, app)
				results.record(app, resp, time.Since(start), err)

				if verbose {
					if err != nil {
						fmt.Printf("ERROR: age=%d income=%.0f -> %v\n", app.Age, app.Income, err)
						continue
					}
					fmt.Printf("age=%-3d income=%12.0f loan=%12.0f | p=%.4f score=%d %-9s %s\n",
						app.Age, app.Income, app.LoanAmount, resp.Probability, resp.CreditScore, resp.Rating, resp.Status)
				}
			}
		}()
	}

	for _, app := range apps {
		work <- app
	}
	close(work)
	wg.Wait()

	return results
}

func score(client *http.Client, baseURL string, app Application) (*ScoreResponse, error) {
	body, err := json.Marshal(app)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// percentile returns the p-th percentile of sorted durations.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

var ratingOrder = []string{"Poor", "Average", "Good", "Excellent", "Undefined"}

func printResults(r *Results, duration time.Duration) {
	total := len(r.Latencies)

	fmt.Println("\nBENCHMARK RESULTS")
	fmt.Printf("   Sent:      %d\n", total)
	fmt.Printf("   Errors:    %d\n", r.Errors)
	fmt.Printf("   Referred:  %d\n", r.Referred)

	fmt.Println("\nRATINGS")
	for _, rating := range ratingOrder {
		n := r.RatingCount[rating]
		if n == 0 {
			continue
		}
		line := fmt.Sprintf("   %-10s %6d (%5.1f%%)", rating, n, 100*float64(n)/float64(total-r.Errors))
		if labelled := r.RatingLabelled[rating]; labelled > 0 {
			line += fmt.Sprintf("  observed default rate %.2f%%", 100*float64(r.RatingDefaults[rating])/float64(labelled))
		}
		fmt.Println(line)
	}

	sorted := append([]time.Duration(nil), r.Latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	fmt.Println("\nPERFORMANCE")
	fmt.Printf("   Total Duration: %v\n", duration.Round(time.Millisecond))
	if total > 0 {
		fmt.Printf("   p50 Latency:    %v\n", percentile(sorted, 0.50))
		fmt.Printf("   p95 Latency:    %v\n", percentile(sorted, 0.95))
		fmt.Printf("   p99 Latency:    %v\n", percentile(sorted, 0.99))
		fmt.Printf("   Throughput:     %.2f req/sec\n", float64(total)/duration.Seconds())
	}
	fmt.Println()
}
