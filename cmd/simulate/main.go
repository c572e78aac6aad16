package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dental-consult-booking/internal/api"
	"github.com/hackgods/dental-consult-booking/internal/auth"
	"github.com/hackgods/dental-consult-booking/internal/slots"
)

type SimConfig struct {
	APIBaseURL  string
	Workers     int
	Rounds      int
	ProviderID  string
	ServiceType string
	Date        string
	JWTSecret   string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// RoundResult is one race: every worker commits the same slot at once.
type RoundResult struct {
	Slot      string
	Successes int64
	Conflicts int64
	Errors    int64
}

type Simulator struct {
	config  SimConfig
	client  *http.Client
	tokens  []string
	commits OperationMetrics
	reads   OperationMetrics
	rounds  []RoundResult
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: workers=%d rounds=%d provider=%s date=%s",
		cfg.Workers, cfg.Rounds, cfg.ProviderID, cfg.Date)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	// One patient per worker.
	for i := 0; i < cfg.Workers; i++ {
		token, err := auth.IssueToken(cfg.JWTSecret, uuid.NewString(), time.Hour)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		sim.tokens = append(sim.tokens, token)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	open, err := sim.fetchSlots(ctx)
	if err != nil {
		log.Fatalf("fetch slots: %v", err)
	}
	if len(open) == 0 {
		log.Fatalf("no open slots for %s on %s", cfg.ProviderID, cfg.Date)
	}
	if len(open) > cfg.Rounds {
		open = open[:cfg.Rounds]
	}

	for _, slot := range open {
		sim.race(ctx, slot)
	}

	ok := sim.PrintReport()
	if !ok {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:  strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Workers:     getInt("SIM_WORKERS", 20),
		Rounds:      getInt("SIM_ROUNDS", 5),
		ProviderID:  getEnv("SIM_PROVIDER_ID", "hassan-bhojani"),
		ServiceType: getEnv("SIM_SERVICE_TYPE", "checkup"),
		Date:        getEnv("SIM_DATE", defaultDate()),
		JWTSecret:   os.Getenv("AUTH_JWT_SECRET"),
	}
}

// defaultDate is the first bookable weekday after today, so no slot is in the past.
func defaultDate() string {
	tomorrow := time.Now().UTC().AddDate(0, 0, 1)
	return slots.BookableDates(tomorrow, 1)[0].Format(time.DateOnly)
}

func validateConfig(cfg SimConfig) error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required (set in .env or environment)")
	}
	if cfg.Workers < 2 {
		return fmt.Errorf("SIM_WORKERS must be at least 2")
	}
	if cfg.Rounds <= 0 {
		return fmt.Errorf("SIM_ROUNDS must be > 0")
	}
	if _, err := time.Parse(time.DateOnly, cfg.Date); err != nil {
		return fmt.Errorf("SIM_DATE must be YYYY-MM-DD")
	}
	return nil
}

func (s *Simulator) fetchSlots(ctx context.Context) ([]string, error) {
	q := url.Values{}
	q.Set("provider_id", s.config.ProviderID)
	q.Set("date", s.config.Date)

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/slots?"+q.Encode(), nil)
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.reads.Record(latency, false, false)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.reads.Record(latency, false, false)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	s.reads.Record(latency, true, false)

	var body api.SlotsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Slots, nil
}

func (s *Simulator) race(ctx context.Context, slot string) {
	log.Printf("racing %d patients for %s %s", s.config.Workers, s.config.Date, slot)

	result := RoundResult{Slot: slot}
	startGate := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			<-startGate

			success, conflict := s.commit(ctx, token, slot)
			switch {
			case success:
				atomic.AddInt64(&result.Successes, 1)
			case conflict:
				atomic.AddInt64(&result.Conflicts, 1)
			default:
				atomic.AddInt64(&result.Errors, 1)
			}
		}(s.tokens[i])
	}

	close(startGate)
	wg.Wait()

	s.rounds = append(s.rounds, result)
}

func (s *Simulator) commit(ctx context.Context, token, slot string) (success, conflict bool) {
	reqBody := api.CreateAppointmentRequest{
		ProviderID:  s.config.ProviderID,
		ServiceType: s.config.ServiceType,
		Date:        s.config.Date,
		Slot:        slot,
		Notes:       "simulated booking",
	}
	body, _ := json.Marshal(reqBody)

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(api.AttemptHeader, uuid.NewString())

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
		case http.StatusConflict:
			var e api.ErrorResponse
			_ = json.NewDecoder(resp.Body).Decode(&e)
			conflict = e.Error == "slot_already_taken"
		}
	}

	s.commits.Record(latency, success, conflict)
	return success, conflict
}

// PrintReport prints the run and reports whether every round had exactly one winner.
func (s *Simulator) PrintReport() bool {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("BOOKING RACE REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Provider: %s  Date: %s\n", s.config.ProviderID, s.config.Date)
	fmt.Printf("Workers per round: %d\n", s.config.Workers)
	fmt.Println()

	ok := true
	for _, r := range s.rounds {
		verdict := "OK"
		if r.Successes != 1 {
			verdict = "DOUBLE BOOKED"
			if r.Successes == 0 {
				verdict = "NO WINNER"
			}
			ok = false
		}
		fmt.Printf("  %s  success=%d conflict=%d error=%d  %s\n", r.Slot, r.Successes, r.Conflicts, r.Errors, verdict)
	}
	fmt.Println()

	printOperationReport("Commit", &s.commits)
	printOperationReport("Read slots", &s.reads)

	return ok
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errs := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errs > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errs, float64(errs)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
