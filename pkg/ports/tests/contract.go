package tests

import (
	"context"
	"testing"

	"github.com/aretw0/agentrun/pkg/ports"
)

// LibraryContractTest is a reusable test suite that verifies if an adapter complies with ports.Library.
// instructions maps node IDs to the text the library is expected to return for them.
func LibraryContractTest(t *testing.T, lib ports.Library, instructions map[string]string) {
	t.Helper()
	ctx := context.Background()

	t.Run("Instructions_Found", func(t *testing.T) {
		for id, want := range instructions {
			got, found, err := lib.Instructions(ctx, id)
			if err != nil {
				t.Fatalf("unexpected error getting instructions for %s: %v", id, err)
			}
			if !found {
				t.Fatalf("instructions for %s not found", id)
			}
			if got != want {
				t.Errorf("content mismatch for %s. got %q, want %q", id, got, want)
			}
		}
	})

	t.Run("Instructions_Missing", func(t *testing.T) {
		text, found, err := lib.Instructions(ctx, "non-existent-node")
		if err != nil {
			t.Fatalf("a missing node must not be an error, got %v", err)
		}
		if found || text != "" {
			t.Errorf("expected absent instructions, got found=%v text=%q", found, text)
		}
	})

	t.Run("Prompt_Missing", func(t *testing.T) {
		_, found, err := lib.Prompt(ctx, "/non/existent/sub-agent")
		if err != nil {
			t.Fatalf("a missing prompt must not be an error, got %v", err)
		}
		if found {
			t.Error("expected absent prompt")
		}
	})
}
