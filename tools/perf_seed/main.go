// Command perf_seed writes synthetic contracts and sales feeds and optionally
// drives batch statement generation through the HTTP API.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"royalty-cloud/internal/auth"
	royalty "royalty-cloud/internal/royalty/domain"
	"royalty-cloud/internal/royalty/infrastructure/sqlstore"
)

// batchSize stays within the API's batch limit.
const batchSize = 500

var formats = []string{"hardcover", "paperback", "ebook"}

type config struct {
	dsn            string
	sqlitePath     string
	baseURL        string
	jwtSecret      string
	tenantID       string
	contractPrefix string
	contractCount  int
	startDate      string
	periods        int
	salesPerPeriod int
	returnRate     float64
	cumulative     bool
	generate       bool
	seed           int64
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" && cfg.sqlitePath == "" {
		log.Fatal("PG_DSN, DATABASE_URL or SQLITE_PATH is required")
	}
	if cfg.contractCount <= 0 || cfg.periods <= 0 || cfg.salesPerPeriod <= 0 {
		log.Fatal("contract-count, periods and sales-per-period must be > 0")
	}
	start, err := time.Parse(time.DateOnly, cfg.startDate)
	if err != nil {
		log.Fatalf("invalid start-date: %v", err)
	}

	ctx := context.Background()
	db, dialect, err := open(ctx, cfg)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := sqlstore.Migrate(ctx, db, dialect); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	store := sqlstore.New(db, dialect)

	rng := rand.New(rand.NewSource(cfg.seed))
	contractIDs := make([]string, 0, cfg.contractCount)
	began := time.Now()
	for i := 0; i < cfg.contractCount; i++ {
		contract, tiers := buildContract(cfg, i, rng)
		if err := store.UpsertContract(ctx, contract, tiers); err != nil {
			log.Fatalf("upsert contract %s: %v", contract.ID, err)
		}
		if err := store.ReplaceOwnership(ctx, cfg.tenantID, contract.TitleID, buildOwnership(i)); err != nil {
			log.Fatalf("ownership %s: %v", contract.TitleID, err)
		}
		sales, returns := buildFeed(contract.TitleID, start, cfg.periods, cfg.salesPerPeriod, cfg.returnRate, rng)
		if err := store.InsertSales(ctx, cfg.tenantID, sales...); err != nil {
			log.Fatalf("sales %s: %v", contract.TitleID, err)
		}
		if err := store.InsertReturns(ctx, cfg.tenantID, returns...); err != nil {
			log.Fatalf("returns %s: %v", contract.TitleID, err)
		}
		contractIDs = append(contractIDs, contract.ID)
	}
	log.Printf("seeded contracts=%d periods=%d sales/period=%d in %s", cfg.contractCount, cfg.periods, cfg.salesPerPeriod, time.Since(began))

	if cfg.generate {
		if cfg.baseURL == "" {
			log.Fatal("base-url is required when generate is enabled")
		}
		began = time.Now()
		total, failed, err := generateStatements(ctx, cfg, contractIDs, start)
		if err != nil {
			log.Fatalf("generate statements: %v", err)
		}
		log.Printf("generated statements=%d failed=%d in %s", total, failed, time.Since(began))
	}
	log.Printf("perf seed completed")
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&cfg.sqlitePath, "sqlite", envOrDefault("SQLITE_PATH", ""), "SQLite path used when no DSN is set")
	flag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", ""), "API base URL for statement generation")
	flag.StringVar(&cfg.jwtSecret, "jwt-secret", envOrDefault("AUTH_JWT_SECRET", ""), "secret used to sign an operator token")
	flag.StringVar(&cfg.tenantID, "tenant-id", envOrDefault("TENANT_ID", "tenant-demo"), "tenant id")
	flag.StringVar(&cfg.contractPrefix, "contract-prefix", envOrDefault("CONTRACT_PREFIX", "contract-perf-"), "contract id prefix")
	flag.IntVar(&cfg.contractCount, "contract-count", envOrInt("CONTRACT_COUNT", 50), "number of contracts to seed")
	flag.StringVar(&cfg.startDate, "start-date", envOrDefault("START_DATE", "2024-01-01"), "first period start (YYYY-MM-DD)")
	flag.IntVar(&cfg.periods, "periods", envOrInt("PERIODS", 4), "number of quarterly periods")
	flag.IntVar(&cfg.salesPerPeriod, "sales-per-period", envOrInt("SALES_PER_PERIOD", 200), "sales records per contract and period")
	flag.Float64Var(&cfg.returnRate, "return-rate", 0.05, "share of sales records followed by a return")
	flag.BoolVar(&cfg.cumulative, "cumulative", false, "seed contracts in cumulative tier mode")
	flag.BoolVar(&cfg.generate, "generate", envOrBool("GENERATE_STATEMENTS", false), "generate statements via the batch API")
	flag.Int64Var(&cfg.seed, "seed", 1, "random seed")
	flag.Parse()
	return cfg
}

func open(ctx context.Context, cfg config) (*sql.DB, sqlstore.Dialect, error) {
	if cfg.dsn != "" {
		db, err := sqlstore.OpenPostgres(ctx, cfg.dsn)
		return db, sqlstore.Postgres, err
	}
	db, err := sqlstore.OpenSQLite(ctx, cfg.sqlitePath)
	return db, sqlstore.SQLite, err
}

func buildContract(cfg config, i int, rng *rand.Rand) (royalty.Contract, []royalty.Tier) {
	mode := royalty.TierModePeriod
	if cfg.cumulative {
		mode = royalty.TierModeCumulative
	}
	advance := royalty.MoneyFromCents(int64(rng.Intn(500000)) * 100)
	contract := royalty.Contract{
		ID:            cfg.contractPrefix + strconv.Itoa(i+1),
		TenantID:      cfg.tenantID,
		TitleID:       fmt.Sprintf("title-perf-%d", i+1),
		Status:        royalty.ContractActive,
		TierMode:      mode,
		Currency:      "USD",
		AdvanceAmount: advance,
		AdvancePaid:   advance,
	}
	var tiers []royalty.Tier
	for _, format := range formats {
		tiers = append(tiers,
			royalty.Tier{Format: format, MinQuantity: 0, MaxQuantity: royalty.Int64Ptr(5000), Rate: royalty.MustRate("0.10")},
			royalty.Tier{Format: format, MinQuantity: 5000, MaxQuantity: royalty.Int64Ptr(20000), Rate: royalty.MustRate("0.125")},
			royalty.Tier{Format: format, MinQuantity: 20000, Rate: royalty.MustRate("0.15")},
		)
	}
	return contract, tiers
}

func buildOwnership(i int) []royalty.OwnershipShare {
	if i%3 == 0 {
		return []royalty.OwnershipShare{{PayeeID: "author-solo", Percentage: royalty.MustMoney("100").Decimal()}}
	}
	return []royalty.OwnershipShare{
		{PayeeID: "author-a", Percentage: royalty.MustMoney("33.34").Decimal()},
		{PayeeID: "author-b", Percentage: royalty.MustMoney("33.33").Decimal()},
		{PayeeID: "author-c", Percentage: royalty.MustMoney("33.33").Decimal()},
	}
}

func buildFeed(titleID string, start time.Time, periods, perPeriod int, returnRate float64, rng *rand.Rand) ([]royalty.SalesRecord, []royalty.ReturnRecord) {
	sales := make([]royalty.SalesRecord, 0, periods*perPeriod)
	var returns []royalty.ReturnRecord
	for p := 0; p < periods; p++ {
		periodStart := start.AddDate(0, 3*p, 0)
		days := int(periodStart.AddDate(0, 3, 0).Sub(periodStart).Hours() / 24)
		for n := 0; n < perPeriod; n++ {
			format := formats[rng.Intn(len(formats))]
			price := royalty.MoneyFromCents(int64(499 + rng.Intn(2500)))
			sale := royalty.SalesRecord{
				ID:        "sale-" + uuid.NewString(),
				TitleID:   titleID,
				Format:    format,
				Quantity:  int64(1 + rng.Intn(400)),
				UnitPrice: price,
				SaleDate:  periodStart.AddDate(0, 0, rng.Intn(days)),
				Channel:   "retail",
			}
			sales = append(sales, sale)
			if rng.Float64() < returnRate {
				returns = append(returns, royalty.ReturnRecord{
					ID:         "return-" + uuid.NewString(),
					TitleID:    titleID,
					Format:     format,
					Quantity:   1 + sale.Quantity/10,
					UnitPrice:  price,
					ReturnDate: sale.SaleDate,
					Channel:    sale.Channel,
					Status:     royalty.ReturnApproved,
				})
			}
		}
	}
	return sales, returns
}

func generateStatements(ctx context.Context, cfg config, contractIDs []string, start time.Time) (int, int, error) {
	items := make([]map[string]any, 0, len(contractIDs)*cfg.periods)
	for _, id := range contractIDs {
		for p := 0; p < cfg.periods; p++ {
			periodStart := start.AddDate(0, 3*p, 0)
			items = append(items, map[string]any{
				"contract_id":  id,
				"period_start": periodStart.Format(time.DateOnly),
				"period_end":   periodStart.AddDate(0, 3, 0).Format(time.DateOnly),
			})
		}
	}
	token := ""
	if cfg.jwtSecret != "" {
		var err error
		token, err = auth.IssueJWT([]byte(cfg.jwtSecret), cfg.tenantID, auth.RoleOperator, "perf-seed", time.Hour)
		if err != nil {
			return 0, 0, err
		}
	}
	client := &http.Client{Timeout: 5 * time.Minute}
	total, failed := 0, 0
	for begin := 0; begin < len(items); begin += batchSize {
		end := begin + batchSize
		if end > len(items) {
			end = len(items)
		}
		t, f, err := postBatch(ctx, client, cfg.baseURL, token, items[begin:end])
		if err != nil {
			return total, failed, err
		}
		total += t
		failed += f
	}
	return total, failed, nil
}

func postBatch(ctx context.Context, client *http.Client, baseURL, token string, items []map[string]any) (int, int, error) {
	payload, err := json.Marshal(map[string]any{"items": items})
	if err != nil {
		return 0, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/v1/statements/batch", bytes.NewReader(payload))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, 0, fmt.Errorf("batch generate: http %d", resp.StatusCode)
	}
	var body struct {
		Total  int `json:"total"`
		Failed int `json:"failed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, 0, err
	}
	return body.Total, body.Failed, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
