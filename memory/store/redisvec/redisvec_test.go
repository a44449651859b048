package redisvec

import (
	"fmt"
	"os"
	"testing"

	"github.com/memnetlabs/memnet/memory"
	"github.com/memnetlabs/memnet/memory/storetest"
)

func TestRedisvecStore(t *testing.T) {
	addr := os.Getenv("TEST_REDISVEC_ADDR")
	if addr == "" {
		t.Skip("TEST_REDISVEC_ADDR must be set to run redisvec tests (a Redis instance with RediSearch loaded)")
	}

	n := 0
	storetest.Run(t, func(t *testing.T) memory.Store {
		n++
		collection := fmt.Sprintf("memnet_test_%d", n)
		store, err := New(Config{Addr: addr, Collection: collection})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() {
			ctx := t.Context()
			store.dropIndexAndKeys(ctx)
			store.Close()
		})
		return store
	})
}
