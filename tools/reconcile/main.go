// Command reconcile recalculates stored statements for a contract and writes a
// CSV report of any that no longer match their source data.
package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"royalty-cloud/internal/observability/logging"
	statementapp "royalty-cloud/internal/royalty/application"
	royalty "royalty-cloud/internal/royalty/domain"
	"royalty-cloud/internal/royalty/infrastructure/sqlstore"
)

type config struct {
	dbURL      string
	sqlitePath string
	tenantID   string
	contracts  []string
	outDir     string
	strict     bool
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "create out dir:", err)
		os.Exit(2)
	}

	ctx := context.Background()
	db, dialect, err := open(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	store := sqlstore.New(db, dialect)
	logger := logging.Setup()
	service, err := statementapp.NewStatementService(store, store, nil, cfg.tenantID, statementapp.DefaultConfig(), logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "statement service:", err)
		os.Exit(2)
	}

	var results []statementapp.Verification
	for _, contractID := range cfg.contracts {
		list, err := service.List(ctx, contractID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list statements for %s: %v\n", contractID, err)
			os.Exit(2)
		}
		for _, rec := range list {
			if rec.Status == royalty.StatementStatusVoided {
				continue
			}
			v, err := service.Verify(ctx, rec.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "verify %s: %v\n", rec.ID, err)
				os.Exit(2)
			}
			results = append(results, *v)
		}
	}

	path := filepath.Join(cfg.outDir, "statement_reconcile.csv")
	file, err := os.Create(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "create report:", err)
		os.Exit(2)
	}
	if err := writeReport(file, results); err != nil {
		file.Close()
		fmt.Fprintln(os.Stderr, "write report:", err)
		os.Exit(2)
	}
	if err := file.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "close report:", err)
		os.Exit(2)
	}

	drifted := 0
	for _, v := range results {
		if !v.Matches() {
			drifted++
		}
	}
	fmt.Printf("Reconciled %d statements (%d drifted); report written to %s\n", len(results), drifted, path)
	if cfg.strict && drifted > 0 {
		os.Exit(1)
	}
}

func parseFlags() (config, error) {
	var cfg config
	var contracts string
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.sqlitePath, "sqlite", getenvDefault("SQLITE_PATH", ""), "SQLite database path (used when -db is empty)")
	flag.StringVar(&cfg.tenantID, "tenant", getenvDefault("TENANT_ID", ""), "tenant id")
	flag.StringVar(&contracts, "contracts", "", "comma separated contract ids")
	flag.StringVar(&cfg.outDir, "out", "./out", "output directory")
	flag.BoolVar(&cfg.strict, "strict", false, "exit 1 when any statement drifted")
	flag.Parse()

	if cfg.dbURL == "" && cfg.sqlitePath == "" {
		return cfg, errors.New("-db or -sqlite is required")
	}
	if cfg.tenantID == "" {
		return cfg, errors.New("-tenant is required")
	}
	for _, id := range strings.Split(contracts, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.contracts = append(cfg.contracts, id)
		}
	}
	if len(cfg.contracts) == 0 {
		return cfg, errors.New("-contracts is required")
	}
	return cfg, nil
}

func open(ctx context.Context, cfg config) (*sql.DB, sqlstore.Dialect, error) {
	if cfg.dbURL != "" {
		db, err := sqlstore.OpenPostgres(ctx, cfg.dbURL)
		return db, sqlstore.Postgres, err
	}
	db, err := sqlstore.OpenSQLite(ctx, cfg.sqlitePath)
	return db, sqlstore.SQLite, err
}

func writeReport(w io.Writer, rows []statementapp.Verification) error {
	writer := csv.NewWriter(w)
	header := []string{
		"statement_id", "contract_id", "status", "version",
		"stored_gross", "recomputed_gross", "stored_net", "recomputed_net",
		"hash_valid", "matches", "drift",
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, v := range rows {
		record := []string{
			v.StatementID,
			v.ContractID,
			v.Status,
			strconv.Itoa(v.Version),
			v.StoredGross.String(),
			v.RecomputedGross.String(),
			v.StoredNet.String(),
			v.RecomputedNet.String(),
			strconv.FormatBool(v.HashValid),
			strconv.FormatBool(v.Matches()),
			strings.Join(v.Drift, ";"),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
