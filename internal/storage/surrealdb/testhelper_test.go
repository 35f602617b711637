package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	surreal "github.com/surrealdb/surrealdb.go"

	"github.com/bobmcallan/stockgen/internal/common"
	tcommon "github.com/bobmcallan/stockgen/tests/common"
)

// testConfig points a config at the shared container, with a database of its
// own for each test.
func testConfig(t *testing.T) *common.Config {
	t.Helper()
	sc := tcommon.StartSurrealDB(t)

	cfg := common.NewDefaultConfig()
	cfg.Environment = "test"
	cfg.Storage.Backend = "surrealdb"
	cfg.Storage.Address = sc.Address()
	cfg.Storage.Namespace = "stockgen_test"
	cfg.Storage.Database = testDBName(t)
	cfg.Storage.Username = "root"
	cfg.Storage.Password = "root"
	return cfg
}

// testDB opens a connection through the same path NewManager uses.
func testDB(t *testing.T) *surreal.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := open(ctx, testConfig(t).Storage)
	if err != nil {
		t.Fatalf("open SurrealDB: %v", err)
	}
	t.Cleanup(func() { db.Close(context.Background()) })
	return db
}

// testDBName derives a database name from the test name. Subtest names carry
// '/', which SurrealDB rejects.
func testDBName(t *testing.T) string {
	name := strings.NewReplacer("/", "_", " ", "_", "-", "_").Replace(t.Name())
	return fmt.Sprintf("t_%s_%d", name, time.Now().UnixNano()%100000)
}

func testLogger() *common.Logger {
	return common.NewSilentLogger()
}
