package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/daily-challenge/internal/domain"
	"github.com/daily-challenge/internal/seed"
)

var playerPrefixes = []string{
	"phoenix", "shadow", "thunder", "storm", "blaze", "ninja", "dragon", "wolf", "hawk", "viper",
	"ghost", "titan", "frost", "cyber", "nova", "raven", "omega", "alpha", "delta", "sigma",
}

type player struct {
	id    string
	email string
	// baseline run time in seconds; runs vary around it
	pace float64
}

func newPlayers(n int) []player {
	players := make([]player, n)
	for i := range players {
		prefix := playerPrefixes[i%len(playerPrefixes)]
		players[i] = player{
			id:    uuid.NewString(),
			email: fmt.Sprintf("%s%d@example.com", prefix, i/len(playerPrefixes)+1),
			pace:  900 + rand.Float64()*1800,
		}
	}
	return players
}

func (p player) run(kind domain.ChallengeKind, challengeSeed string, character *int) domain.RecordMessage {
	runTime := p.pace * (0.85 + rand.Float64()*0.3)
	data, _ := json.Marshal(map[string]interface{}{
		"floors":  rand.IntN(8) + 8,
		"deaths":  0,
		"version": "synthetic",
	})
	return domain.RecordMessage{
		Kind:   kind,
		UserID: p.id,
		Email:  p.email,
		RecordSubmission: domain.RecordSubmission{
			Time:      float64(int(runTime*100)) / 100,
			Seed:      challengeSeed,
			Character: character,
			Data:      data,
		},
	}
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "challenge-records", "Kafka topic")
	kindFlag := flag.String("kind", "daily", "Challenge kind (daily or weekly)")
	challengeSeed := flag.String("seed", "", "Seed of the current challenge")
	characterFlag := flag.Int("character", -1, "Character id for weekly runs (-1 = none)")
	totalPlayers := flag.Int("players", 100, "Total number of players to simulate")
	runsPerSecond := flag.Int("rate", 20, "Runs per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	initialOnly := flag.Bool("initial-only", false, "Only send one run per player, no continuous runs")
	flag.Parse()

	kind, err := domain.ParseChallengeKind(*kindFlag)
	if err != nil {
		log.Fatalf("Invalid kind: %v", err)
	}
	if !seed.Validate(*challengeSeed) {
		log.Fatalf("Invalid seed %q: pass the seed of the current %s challenge with -seed", *challengeSeed, kind)
	}
	if *totalPlayers <= 0 || *runsPerSecond <= 0 {
		log.Fatalf("players and rate must be positive")
	}
	var character *int
	if *characterFlag >= 0 {
		character = characterFlag
	}

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("Kafka challenge record producer")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Challenge:        %s %s\n", kind, *challengeSeed)
	fmt.Printf("  Total Players:    %d\n", *totalPlayers)
	fmt.Printf("  Runs/sec:         %d\n", *runsPerSecond)
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	shutdown := func(reason string) {
		fmt.Printf("\n%s, shutting down...\n", reason)
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	// Send message helper
	sendMessage := func(record domain.RecordMessage) {
		data, err := json.Marshal(record)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(record.UserID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
			return
		}
	}

	players := newPlayers(*totalPlayers)

	// One opening run per player
	fmt.Printf("Sending opening runs for %d players...\n", len(players))
	for i, p := range players {
		sendMessage(p.run(kind, *challengeSeed, character))
		if (i+1)%50 == 0 || i+1 == len(players) {
			fmt.Printf("\r  Progress: %d/%d", i+1, len(players))
		}
	}
	fmt.Println()

	if *initialOnly {
		shutdown("Initial-only mode")
		return
	}

	fmt.Printf("Starting continuous runs (%d/sec). Press Ctrl+C to stop\n", *runsPerSecond)

	interval := time.Second / time.Duration(*runsPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var runCount int64

	for {
		select {
		case <-sigChan:
			shutdown("Interrupted")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached")
				return
			}

			sendMessage(players[rand.IntN(len(players))].run(kind, *challengeSeed, character))
			atomic.AddInt64(&runCount, 1)

		case <-statsTicker.C:
			fmt.Printf("[%s] Runs: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&runCount),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
