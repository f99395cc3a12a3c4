package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/dailyspot/internal/domain"
)

var playerPrefixes = []string{
	"Atlas", "Compass", "Drifter", "Explorer", "Globe", "Harbor", "Island", "Jetlag", "Kite", "Latitude",
	"Meridian", "Nomad", "Orbit", "Passport", "Quest", "Rover", "Sextant", "Tundra", "Voyager", "Wander",
}

func playerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

// scatter returns a guess around center. Most guesses land within a few
// hundred miles; a few are wild misses anywhere on the map.
func scatter(center domain.Coordinate, spreadDeg float64) domain.Coordinate {
	if rand.Intn(10) == 0 {
		return domain.Coordinate{
			Latitude:  rand.Float64()*180 - 90,
			Longitude: rand.Float64()*360 - 180,
		}
	}
	lat := center.Latitude + rand.NormFloat64()*spreadDeg
	lng := center.Longitude + rand.NormFloat64()*spreadDeg
	lat = math.Max(-90, math.Min(90, lat))
	if lng > 180 {
		lng -= 360
	} else if lng < -180 {
		lng += 360
	}
	return domain.Coordinate{Latitude: lat, Longitude: lng}
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "guess-submissions", "Kafka topic")
	totalPlayers := flag.Int("players", 1000, "Number of players submitting a guess")
	rate := flag.Int("rate", 100, "Guesses per second")
	lat := flag.Float64("lat", 48.8584, "Latitude guesses cluster around")
	lng := flag.Float64("lng", 2.2945, "Longitude guesses cluster around")
	spread := flag.Float64("spread", 3, "Standard deviation of guesses in degrees")
	signedIn := flag.Float64("signed-in", 0.5, "Fraction of players with a user id")
	flag.Parse()

	if *rate <= 0 || *totalPlayers <= 0 {
		log.Fatal("players and rate must be positive")
	}
	center := domain.Coordinate{Latitude: *lat, Longitude: *lng}
	if !center.Valid() {
		log.Fatalf("invalid center %v", center)
	}

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Daily spot guess producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:     %s\n", *brokers)
	fmt.Printf("  Topic:       %s\n", *topic)
	fmt.Printf("  Players:     %d\n", *totalPlayers)
	fmt.Printf("  Guesses/sec: %d\n", *rate)
	fmt.Printf("  Center:      %.4f, %.4f (±%.1f°)\n", center.Latitude, center.Longitude, *spread)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	finish := func(reason string) {
		fmt.Printf("\n%s\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	// Each player guesses once per day, so the run ends after one pass.
	for i := 0; i < *totalPlayers; i++ {
		select {
		case <-sigChan:
			finish("Interrupted")
			return
		case <-ticker.C:
		}

		submission := domain.GuessSubmission{
			PlayerID: playerName(i),
			Guess:    scatter(center, *spread),
		}
		if rand.Float64() < *signedIn {
			submission.UserID = "user-" + submission.PlayerID
		}

		data, err := json.Marshal(submission)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			continue
		}
		producer.Input() <- &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(submission.PlayerID),
			Value: sarama.ByteEncoder(data),
		}

		if (i+1)%100 == 0 {
			fmt.Printf("\r  Progress: %d/%d guesses", i+1, *totalPlayers)
		}
	}

	finish("All players have guessed")
}
