package pgvector

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/memnetlabs/memnet/memory"
	"github.com/memnetlabs/memnet/memory/storetest"
)

func TestPgvectorStore(t *testing.T) {
	connStr := os.Getenv("TEST_PGVECTOR_CONN_STRING")
	if connStr == "" {
		t.Skip("TEST_PGVECTOR_CONN_STRING must be set to run pgvector tests")
	}

	n := 0
	storetest.Run(t, func(t *testing.T) memory.Store {
		n++
		ctx := context.Background()
		table := fmt.Sprintf("memnet_test_memories_%d", n)
		store, err := New(ctx, Config{ConnString: connStr, Table: table})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() {
			store.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table))
			store.Close()
		})
		return store
	})
}
