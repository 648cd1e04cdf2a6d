// Package main - ward-agitator
// Load generator for the websocket command surface. Simulates many concurrent
// clinicians charting intake, output and orders against one session.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Config for the agitator
type Config struct {
	ServerURL       string
	NumClients      int
	CommandInterval time.Duration
	TestDuration    time.Duration
	Initialize      bool
}

// Stats tracks performance metrics
type Stats struct {
	CommandsSent    int64
	RepliesReceived int64
	ErrorReplies    int64
	Broadcasts      int64
	TransportErrors int64
	RoundTrips      []time.Duration
	mu              sync.Mutex
}

func (s *Stats) addRoundTrip(d time.Duration) {
	s.mu.Lock()
	s.RoundTrips = append(s.RoundTrips, d)
	s.mu.Unlock()
}

// Cheap commands only: no oracle calls except the occasional lab.
var commandWeights = []struct {
	kind   string
	weight int
}{
	{"record_input", 4},
	{"record_output", 4},
	{"snapshot", 3},
	{"order_lab", 1},
}

type envelope struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func main() {
	serverURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	numClients := flag.Int("clients", 20, "Number of concurrent clients")
	interval := flag.Duration("interval", 200*time.Millisecond, "Command interval per client")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	initialize := flag.Bool("init", true, "Admit a patient before the run")
	flag.Parse()

	config := Config{
		ServerURL:       *serverURL,
		NumClients:      *numClients,
		CommandInterval: *interval,
		TestDuration:    *duration,
		Initialize:      *initialize,
	}

	fmt.Println("=========================================")
	fmt.Println("WARD AGITATOR - websocket load test")
	fmt.Println("=========================================")
	fmt.Printf("Server:   %s\n", config.ServerURL)
	fmt.Printf("Clients:  %d\n", config.NumClients)
	fmt.Printf("Interval: %v\n", config.CommandInterval)
	fmt.Printf("Duration: %v\n", config.TestDuration)
	fmt.Println("=========================================")

	ctx, cancel := context.WithTimeout(context.Background(), config.TestDuration)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupt received, stopping...")
		cancel()
	}()

	if config.Initialize {
		if err := admit(ctx, config.ServerURL); err != nil {
			log.Fatalf("initialize failed: %v", err)
		}
	}

	stats := runStressTest(ctx, config)
	printResults(stats, config)
}

// admit sends one initialize command and waits for its reply.
func admit(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.WriteJSON(map[string]any{"type": "initialize", "id": "agitator-init"}); err != nil {
		return err
	}
	conn.SetReadDeadline(time.Now().Add(time.Minute))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env envelope
		if json.Unmarshal(msg, &env) != nil || env.ID != "agitator-init" {
			continue
		}
		if env.Type == "error" {
			return fmt.Errorf("server rejected initialize: %s", msg)
		}
		return nil
	}
}

func runStressTest(ctx context.Context, config Config) *Stats {
	stats := &Stats{
		RoundTrips: make([]time.Duration, 0, 10000),
	}

	var wg sync.WaitGroup

	fmt.Println("\nStarting clients...")

	for i := 0; i < config.NumClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			runClient(ctx, clientID, config, stats)
		}(i)

		// Stagger client starts to avoid thundering herd
		time.Sleep(10 * time.Millisecond)
	}

	fmt.Printf("All %d clients started\n\n", config.NumClients)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Printf("Progress: sent=%d replies=%d errors=%d broadcasts=%d\n",
					atomic.LoadInt64(&stats.CommandsSent),
					atomic.LoadInt64(&stats.RepliesReceived),
					atomic.LoadInt64(&stats.ErrorReplies),
					atomic.LoadInt64(&stats.Broadcasts))
			}
		}
	}()

	wg.Wait()
	return stats
}

func runClient(ctx context.Context, clientID int, config Config, stats *Stats) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.ServerURL, nil)
	if err != nil {
		log.Printf("Client %d: connection failed: %v", clientID, err)
		atomic.AddInt64(&stats.TransportErrors, 1)
		return
	}
	defer conn.Close()

	var (
		inflight sync.Map // id -> time.Time
		seq      int
		rng      = rand.New(rand.NewSource(int64(clientID) + time.Now().UnixNano()))
	)

	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				atomic.AddInt64(&stats.TransportErrors, 1)
				continue
			}
			switch env.Type {
			case "reply", "error":
				if sent, ok := inflight.LoadAndDelete(env.ID); ok {
					stats.addRoundTrip(time.Since(sent.(time.Time)))
				}
				atomic.AddInt64(&stats.RepliesReceived, 1)
				if env.Type == "error" {
					atomic.AddInt64(&stats.ErrorReplies, 1)
				}
			default:
				atomic.AddInt64(&stats.Broadcasts, 1)
			}
		}
	}()

	ticker := time.NewTicker(config.CommandInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			id := fmt.Sprintf("c%03d-%d", clientID, seq)
			cmd := generateRandomCommand(rng, id)
			inflight.Store(id, time.Now())
			if err := conn.WriteJSON(cmd); err != nil {
				atomic.AddInt64(&stats.TransportErrors, 1)
				return
			}
			atomic.AddInt64(&stats.CommandsSent, 1)
		}
	}
}

func generateRandomCommand(rng *rand.Rand, id string) map[string]any {
	total := 0
	for _, c := range commandWeights {
		total += c.weight
	}
	pick := rng.Intn(total)
	kind := commandWeights[0].kind
	for _, c := range commandWeights {
		if pick < c.weight {
			kind = c.kind
			break
		}
		pick -= c.weight
	}

	cmd := map[string]any{"type": kind, "id": id}
	switch kind {
	case "record_input":
		types := []string{"oral", "iv", "other"}
		cmd["payload"] = map[string]any{"type": types[rng.Intn(len(types))], "amount": 50 + rng.Intn(200)}
	case "record_output":
		types := []string{"urine", "urine", "drain", "emesis"}
		cmd["payload"] = map[string]any{"type": types[rng.Intn(len(types))], "amount": 20 + rng.Intn(150)}
	case "order_lab":
		tests := []string{"potassium", "sodium", "creatinine", "bun"}
		cmd["payload"] = map[string]any{"testId": tests[rng.Intn(len(tests))]}
	}
	return cmd
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)-1) * p)
	return sorted[i]
}

func printResults(stats *Stats, config Config) {
	fmt.Println("\n=========================================")
	fmt.Println("LOAD TEST RESULTS")
	fmt.Println("=========================================")

	sent := atomic.LoadInt64(&stats.CommandsSent)
	replies := atomic.LoadInt64(&stats.RepliesReceived)
	errReplies := atomic.LoadInt64(&stats.ErrorReplies)
	transport := atomic.LoadInt64(&stats.TransportErrors)

	fmt.Printf("Commands Sent:     %d\n", sent)
	fmt.Printf("Replies Received:  %d\n", replies)
	fmt.Printf("Error Replies:     %d\n", errReplies)
	fmt.Printf("Broadcasts:        %d\n", atomic.LoadInt64(&stats.Broadcasts))
	fmt.Printf("Transport Errors:  %d\n", transport)

	throughput := float64(sent) / config.TestDuration.Seconds()
	fmt.Printf("Throughput:        %.2f cmd/sec\n", throughput)

	stats.mu.Lock()
	rts := append([]time.Duration(nil), stats.RoundTrips...)
	stats.mu.Unlock()
	sort.Slice(rts, func(i, j int) bool { return rts[i] < rts[j] })
	if len(rts) > 0 {
		fmt.Printf("\nRound trip:\n")
		fmt.Printf("  p50: %v\n", percentile(rts, 0.50))
		fmt.Printf("  p95: %v\n", percentile(rts, 0.95))
		fmt.Printf("  max: %v\n", rts[len(rts)-1])
	}

	fmt.Println("\n-----------------------------------------")
	switch {
	case transport == 0 && replies >= sent*95/100:
		fmt.Println("PASSED: server kept up with the load")
	case float64(transport)/float64(sent+1) < 0.05:
		fmt.Println("WARNING: some replies missing or transport errors")
	default:
		fmt.Println("FAILED: high transport error rate")
	}
	fmt.Println("=========================================")

	results := map[string]any{
		"commands_sent":      sent,
		"replies_received":   replies,
		"error_replies":      errReplies,
		"transport_errors":   transport,
		"throughput_per_sec": throughput,
		"p95_round_trip_ms":  percentile(rts, 0.95).Milliseconds(),
		"config": map[string]any{
			"clients":  config.NumClients,
			"interval": config.CommandInterval.String(),
			"duration": config.TestDuration.String(),
		},
	}

	jsonData, _ := json.MarshalIndent(results, "", "  ")
	os.WriteFile("load_test_results.json", jsonData, 0644)
	fmt.Println("\nResults saved to load_test_results.json")
}
