package observe

import (
	"context"
	"testing"
)

func TestInitProvider_ShutdownClean(t *testing.T) {
	ctx := context.Background()
	shutdown, err := InitProvider(ctx, ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	if shutdown == nil {
		t.Fatal("InitProvider returned nil shutdown")
	}
	if err := shutdown(ctx); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestDispatchBuckets_SortedSubMillisecond(t *testing.T) {
	if dispatchBuckets[0] >= 0.001 {
		t.Errorf("first boundary = %v, want sub-millisecond resolution", dispatchBuckets[0])
	}
	for i := 1; i < len(dispatchBuckets); i++ {
		if dispatchBuckets[i] <= dispatchBuckets[i-1] {
			t.Errorf("boundaries not strictly increasing at %d: %v", i, dispatchBuckets)
		}
	}
}
