package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// backlogCollector reports row counts that describe work still waiting in
// the database. Each scrape runs the queries with a short timeout.
type backlogCollector struct {
	db      *sql.DB
	logger  *slog.Logger
	timeout time.Duration
	gauges  []backlogGauge
}

type backlogGauge struct {
	desc  *prometheus.Desc
	query string
}

func newBacklogCollector(db *sql.DB, logger *slog.Logger) *backlogCollector {
	gauge := func(name, help, query string) backlogGauge {
		return backlogGauge{desc: prometheus.NewDesc(metricPrefix+name, help, nil, nil), query: query}
	}
	return &backlogCollector{
		db:      db,
		logger:  logger,
		timeout: 2 * time.Second,
		gauges: []backlogGauge{
			gauge("event_outbox_pending", "Pending outbox records",
				"SELECT COUNT(*) FROM event_outbox WHERE status = 'pending'"),
			gauge("event_outbox_failed", "Outbox records that exhausted their retries",
				"SELECT COUNT(*) FROM event_outbox WHERE status = 'failed'"),
			gauge("dead_letter_events", "Events the dispatcher could not deliver",
				"SELECT COUNT(*) FROM dead_letter_events"),
			gauge("statement_drafts", "Statements waiting to be finalized",
				"SELECT COUNT(*) FROM royalty_statements WHERE status = 'draft'"),
		},
	}
}

func (c *backlogCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		ch <- g.desc
	}
}

func (c *backlogCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	for _, g := range c.gauges {
		var count int64
		if err := c.db.QueryRowContext(ctx, g.query).Scan(&count); err != nil {
			if c.logger != nil {
				c.logger.Warn("metrics query failed", "metric", g.desc.String(), "err", err)
			}
			continue
		}
		ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, float64(max(count, 0)))
	}
}
