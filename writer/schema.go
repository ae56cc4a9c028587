package writer

import (
	"context"
	"fmt"
	"strings"

	"powerflow/models"
)

func hubCheckList() string {
	hubs := models.AllHubs()
	quoted := make([]string, len(hubs))
	for i, h := range hubs {
		quoted[i] = "'" + string(h) + "'"
	}
	return strings.Join(quoted, ", ")
}

func schemaStatements() []string {
	hubs := hubCheckList()
	lmpTable := func(name string) string {
		return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	start timestamptz NOT NULL,
	"end" timestamptz NOT NULL,
	node  text NOT NULL,
	lmp   double precision NOT NULL,
	mcc   double precision NOT NULL,
	mlc   double precision NOT NULL,
	PRIMARY KEY (start, "end", node),
	CHECK ("end" > start),
	CHECK (node IN (%s))
)`, name, hubs)
	}

	return []string{
		`
CREATE TABLE IF NOT EXISTS load (
	start timestamptz NOT NULL,
	"end" timestamptz NOT NULL,
	load  double precision NOT NULL CHECK (load >= 0),
	PRIMARY KEY (start, "end"),
	CHECK ("end" > start)
)`,
		`
CREATE TABLE IF NOT EXISTS forecast (
	start    timestamptz NOT NULL,
	"end"    timestamptz NOT NULL,
	forecast double precision NOT NULL CHECK (forecast >= 0),
	PRIMARY KEY (start, "end"),
	CHECK ("end" > start)
)`,
		`
CREATE TABLE IF NOT EXISTS fuelmix (
	start       timestamptz NOT NULL,
	"end"       timestamptz NOT NULL,
	nuclear     double precision,
	coal        double precision,
	natural_gas double precision,
	wind        double precision,
	solar       double precision,
	imports     double precision,
	other       double precision,
	total       double precision,
	PRIMARY KEY (start, "end"),
	CHECK ("end" > start)
)`,
		lmpTable("realtime_expost_lmp"),
		lmpTable("dayahead_exante_lmp"),
		`
CREATE TABLE IF NOT EXISTS ingest_watermark (
	series     text PRIMARY KEY,
	last_end   timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
)`,
	}
}

// EnsureSchema creates the storage tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return persistenceErr("ensure_schema", err)
		}
	}
	s.log.Debug("storage schema ensured")
	return nil
}
