package records

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationStoreRoundTrip(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	pg := store.(*PostgresStore)
	pg.tableName = postgresIntegrationTableName("offlinesync_activities_it")
	pg.metaTable = postgresIntegrationTableName("offlinesync_schema_it")
	t.Cleanup(func() {
		_ = store.Close()
		postgresIntegrationDropTable(t, dsn, pg.tableName)
		postgresIntegrationDropTable(t, dsn, pg.metaTable)
	})

	ctx := context.Background()
	rec, err := store.Add(ctx, Draft{StudentName: "Ana", Activity: "Lab", Date: "2024-01-15", Hours: 2})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !rec.Persisted() {
		t.Fatalf("expected assigned id, got %+v", rec)
	}
	byDate, err := store.ListByDate(ctx, "2024-01-15")
	if err != nil {
		t.Fatalf("list by date failed: %v", err)
	}
	if len(byDate) != 1 || byDate[0].ID != rec.ID {
		t.Fatalf("expected the added record, got %+v", byDate)
	}
	if got := store.SchemaVersion(); got != CurrentSchemaVersion {
		t.Fatalf("expected schema version %d, got %d", CurrentSchemaVersion, got)
	}
	if err := store.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected empty store, got %d", n)
	}
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("OFFLINESYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set OFFLINESYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Logf("drop table %s: %v", tableName, err)
		return
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+postgresQuoteIdentifier(tableName)); err != nil {
		t.Logf("drop table %s: %v", tableName, err)
	}
}
