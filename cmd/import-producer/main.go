package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"

	"github.com/family-history/internal/domain"
	"github.com/family-history/internal/kafka"
)

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
	"Ace", "Bolt", "Crash", "Dash", "Edge", "Flash", "Glitch", "Haze", "Ion", "Jade",
	"Knight", "Luna", "Mystic", "Neon", "Orion", "Pulse", "Quantum", "Rebel", "Spark", "Turbo",
}

func getPlayerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

// demoRoster builds a gmbr export of players members
func demoRoster(players int) string {
	var b strings.Builder
	b.WriteString("gmbr")
	for i := 0; i < players; i++ {
		fmt.Fprintf(&b, " %d|%d|%s|%d|%d|0|0|0|0|0",
			1000+i, 50000+i, getPlayerName(i), 30+rand.Intn(70), 1+rand.Intn(8))
	}
	return b.String()
}

// demoPoints builds a gexp export from cumulative totals
func demoPoints(totals []int64) string {
	var b strings.Builder
	b.WriteString("gexp")
	for i, total := range totals {
		fmt.Fprintf(&b, " %d|%d", 1000+i, total)
	}
	return b.String()
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "family-imports", "Kafka topic")
	family := flag.String("family", "", "Family name")
	date := flag.String("date", "", "Snapshot date YYYY-MM-DD (empty = today on the server)")
	gmbrPath := flag.String("gmbr", "", "Path to the gmbr export")
	gexpPath := flag.String("gexp", "", "Path to the gexp export")
	demoPlayers := flag.Int("demo-players", 0, "Generate a demo family with this many players instead of reading files")
	demoDays := flag.Int("demo-days", 30, "Number of daily demo snapshots ending at -date or today")
	flag.Parse()

	if strings.TrimSpace(*family) == "" {
		log.Fatal("-family is required")
	}

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Family Snapshot Import Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Family:           %s\n", *family)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	var requests []domain.ImportRequest
	var err error
	if *demoPlayers > 0 {
		requests, err = demoRequests(*family, *date, *demoPlayers, *demoDays)
	} else {
		requests, err = fileRequest(*family, *date, *gmbrPath, *gexpPath)
	}
	if err != nil {
		log.Fatalf("Failed to prepare import: %v", err)
	}

	producer, err := kafka.NewProducer(strings.Split(*brokers, ","), *topic)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	var sent, failed int
	for _, req := range requests {
		partition, offset, err := producer.Publish(req)
		if err != nil {
			failed++
			log.Printf("Failed to publish %s snapshot %s: %v", req.Family, req.SnapshotDate, err)
			continue
		}
		sent++
		fmt.Printf("  ✓ %s %s -> partition %d offset %d\n", req.Family, displayDate(req.SnapshotDate), partition, offset)
	}

	fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", sent, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func displayDate(s string) string {
	if s == "" {
		return "(today)"
	}
	return s
}

func fileRequest(family, date, gmbrPath, gexpPath string) ([]domain.ImportRequest, error) {
	if gmbrPath == "" {
		return nil, fmt.Errorf("-gmbr or -demo-players is required")
	}
	if date != "" {
		if _, err := domain.ParseDate(date); err != nil {
			return nil, err
		}
	}
	gmbr, err := os.ReadFile(gmbrPath)
	if err != nil {
		return nil, fmt.Errorf("reading gmbr export: %w", err)
	}
	var gexp []byte
	if gexpPath != "" {
		if gexp, err = os.ReadFile(gexpPath); err != nil {
			return nil, fmt.Errorf("reading gexp export: %w", err)
		}
	}
	return []domain.ImportRequest{{
		Family:       family,
		SnapshotDate: date,
		Gmbr:         string(gmbr),
		Gexp:         string(gexp),
	}}, nil
}

// demoRequests generates days daily snapshots where every player keeps
// gaining points, top players faster
func demoRequests(family, date string, players, days int) ([]domain.ImportRequest, error) {
	end := domain.Today()
	if date != "" {
		d, err := domain.ParseDate(date)
		if err != nil {
			return nil, err
		}
		end = d
	}
	if days < 1 {
		days = 1
	}

	roster := demoRoster(players)
	totals := make([]int64, players)
	for i := range totals {
		totals[i] = int64(rand.Intn(5000) + 1000)
	}

	requests := make([]domain.ImportRequest, 0, days)
	for day := days - 1; day >= 0; day-- {
		for i := range totals {
			switch {
			case i < 10:
				totals[i] += int64(rand.Intn(800) + 400)
			case i < 50:
				totals[i] += int64(rand.Intn(600) + 300)
			default:
				totals[i] += int64(rand.Intn(400))
			}
		}
		requests = append(requests, domain.ImportRequest{
			Family:       family,
			SnapshotDate: end.AddDays(-day).String(),
			Gmbr:         roster,
			Gexp:         demoPoints(totals),
		})
	}
	return requests, nil
}
