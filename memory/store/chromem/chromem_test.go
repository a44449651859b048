package chromem

import (
	"testing"

	"github.com/memnetlabs/memnet/memory"
	"github.com/memnetlabs/memnet/memory/storetest"
)

func TestChromemStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) memory.Store {
		return New("test_collection")
	})
}
