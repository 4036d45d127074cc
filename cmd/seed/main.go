// Seed tool for loading a demo customer cohort into Kestrel.
//
// Usage:
//   go run cmd/seed/main.go -url http://localhost:8080 -count 50
//
// This tool:
//   1. Generates a synthetic ISP customer cohort (healthy, at-risk, critical mix)
//   2. Upserts each snapshot through the Kestrel API
//   3. Fetches the board projection and prints the resulting column counts
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is the Kestrel API snapshot upsert format.
type Snapshot struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Plan          string  `json:"plan"`
	MonthlyAmount float64 `json:"monthlyAmount"`
	DaysOverdue   int     `json:"daysOverdue"`
	RawFinancial  int     `json:"rawFinancial"`
	RawSupport    int     `json:"rawSupport"`
	RawNPS        int     `json:"rawNps"`
	RawQuality    int     `json:"rawQuality"`
	RawBehavioral int     `json:"rawBehavioral"`
	Calls30d      int     `json:"calls30d"`
	Calls90d      int     `json:"calls90d"`
	NPSScore      int     `json:"npsScore"`
	NPSClass      string  `json:"npsClass"`
	LTV           float64 `json:"ltv"`
	ChurnStatus   string  `json:"churnStatus"`
}

// BoardResponse is the subset of the board projection the seeder reports on.
type BoardResponse struct {
	Columns []struct {
		ID    string `json:"id"`
		Cards []any  `json:"cards"`
	} `json:"columns"`
}

var businessNames = []string{
	"Oficina Silva", "Padaria Central", "Mercado Boa Vista", "Farmácia Andrade",
	"Restaurante Sabor Mineiro", "Auto Peças Rocha", "Papelaria Horizonte",
	"Clínica Vida Plena", "Academia Corpo Livre", "Lanchonete do Zé",
	"Imobiliária Costa Azul", "Pet Shop Amigo Fiel", "Salão Bela Forma",
	"Escritório Lima & Prado", "Distribuidora Nogueira", "Gráfica Moderna",
	"Pousada Recanto Verde", "Sorveteria Gelato Real", "Barbearia Navalha",
	"Loja Estilo Urbano",
}

var plans = []string{"Fibra 200", "Fibra 400", "Fibra 600", "Fibra 1G Empresas"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	operatorID := flag.String("operator", "seed-tool", "Operator ID for requests")
	count := flag.Int("count", 40, "Number of customers to generate")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	seed := flag.Int64("seed", 42, "Random seed (same seed, same cohort)")
	criticalPct := flag.Float64("critical", 0.15, "Fraction of cohort in critical shape (0.0-1.0)")
	alertPct := flag.Float64("alert", 0.25, "Fraction of cohort in alert shape (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each upserted snapshot")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            KESTREL SEED - Demo Customer Cohort                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Operator:    %s\n", *operatorID)
	fmt.Printf("Count:       %d\n", *count)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Printf("Mix:         %.0f%% critical / %.0f%% alert / %.0f%% healthy\n",
		*criticalPct*100, *alertPct*100, (1-*criticalPct-*alertPct)*100)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	cohort := generateCohort(*count, *seed, *criticalPct, *alertPct)
	fmt.Printf("✓ Generated %d customer snapshots\n", len(cohort))

	fmt.Printf("\nUpserting snapshots with %d workers...\n", *workers)
	start := time.Now()
	loaded, errors := upsertCohort(cohort, *baseURL, *operatorID, *workers, *verbose)
	duration := time.Since(start)

	fmt.Printf("\n✓ Upserted %d snapshots in %v (%d errors)\n",
		loaded, duration.Round(time.Millisecond), errors)

	printBoard(*baseURL)
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

// generateCohort builds a deterministic cohort from the seed. The first
// criticalPct of the cohort gets a critical signal profile, the next
// alertPct an alert profile, the rest a healthy one.
func generateCohort(count int, seed int64, criticalPct, alertPct float64) []Snapshot {
	rng := rand.New(rand.NewSource(seed))
	cohort := make([]Snapshot, 0, count)

	criticalCut := int(float64(count) * criticalPct)
	alertCut := criticalCut + int(float64(count)*alertPct)

	for i := 0; i < count; i++ {
		name := fmt.Sprintf("%s #%d", businessNames[i%len(businessNames)], i/len(businessNames)+1)
		plan := plans[rng.Intn(len(plans))]
		monthly := 89.90 + float64(rng.Intn(4))*60.0

		var snap Snapshot
		switch {
		case i < criticalCut:
			snap = criticalProfile(rng)
		case i < alertCut:
			snap = alertProfile(rng)
		default:
			snap = healthyProfile(rng)
		}

		snap.ID = int64(1000 + i)
		snap.Name = name
		snap.Plan = plan
		snap.MonthlyAmount = monthly
		snap.LTV = monthly * float64(6+rng.Intn(42))
		cohort = append(cohort, snap)
	}

	return cohort
}

func criticalProfile(rng *rand.Rand) Snapshot {
	return Snapshot{
		DaysOverdue:   45 + rng.Intn(45),
		RawFinancial:  24 + rng.Intn(7),
		RawSupport:    0,
		RawNPS:        20 + rng.Intn(11),
		RawQuality:    18 + rng.Intn(8),
		RawBehavioral: 14 + rng.Intn(7),
		Calls30d:      6 + rng.Intn(10),
		Calls90d:      15 + rng.Intn(20),
		NPSScore:      rng.Intn(5),
		NPSClass:      "detractor",
		ChurnStatus:   "at_risk",
	}
}

func alertProfile(rng *rand.Rand) Snapshot {
	return Snapshot{
		DaysOverdue:   10 + rng.Intn(25),
		RawFinancial:  12 + rng.Intn(8),
		RawSupport:    0,
		RawNPS:        15 + rng.Intn(10),
		RawQuality:    8 + rng.Intn(8),
		RawBehavioral: 6 + rng.Intn(6),
		Calls30d:      2 + rng.Intn(3),
		Calls90d:      4 + rng.Intn(8),
		NPSScore:      5 + rng.Intn(3),
		NPSClass:      "neutral",
		ChurnStatus:   "active",
	}
}

func healthyProfile(rng *rand.Rand) Snapshot {
	return Snapshot{
		DaysOverdue:   0,
		RawFinancial:  0,
		RawSupport:    0,
		RawNPS:        rng.Intn(5),
		RawQuality:    rng.Intn(4),
		RawBehavioral: rng.Intn(3),
		Calls30d:      rng.Intn(2),
		Calls90d:      rng.Intn(4),
		NPSScore:      9 + rng.Intn(2),
		NPSClass:      "promoter",
		ChurnStatus:   "active",
	}
}

func upsertCohort(cohort []Snapshot, baseURL, operatorID string, numWorkers int, verbose bool) (int64, int64) {
	var loaded, errors int64

	work := make(chan Snapshot, 32)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for snap := range work {
				if err := upsertSnapshot(client, baseURL, operatorID, snap); err != nil {
					atomic.AddInt64(&errors, 1)
					fmt.Printf("ERROR: %s -> %v\n", snap.Name, err)
					continue
				}
				atomic.AddInt64(&loaded, 1)
				if verbose {
					fmt.Printf("✓ #%d %-28s | Plan: %-16s | Overdue: %3dd | Calls30d: %2d | NPS: %s\n",
						snap.ID, snap.Name, snap.Plan, snap.DaysOverdue, snap.Calls30d, snap.NPSClass)
				}
			}
		}()
	}

	for _, snap := range cohort {
		work <- snap
	}
	close(work)
	wg.Wait()

	return loaded, errors
}

func upsertSnapshot(client *http.Client, baseURL, operatorID string, snap Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/snapshots", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Operator-ID", operatorID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func printBoard(baseURL string) {
	resp, err := http.Get(baseURL + "/board")
	if err != nil {
		fmt.Printf("\nWARNING: could not fetch board: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var b BoardResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		fmt.Printf("\nWARNING: could not decode board: %v\n", err)
		return
	}

	fmt.Printf("\n📋 BOARD PROJECTION\n")
	for _, col := range b.Columns {
		fmt.Printf("   %-12s %4d cards\n", col.ID, len(col.Cards))
	}
	fmt.Println()
}
