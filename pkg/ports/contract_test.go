package ports_test

import (
	"testing"

	"github.com/aretw0/redliner/pkg/adapters/memory"
	"github.com/aretw0/redliner/pkg/ports"
)

func TestStateStoreContract_Memory(t *testing.T) {
	ports.RunStateStoreContract(t, memory.NewStore())
}
