// Package testutil provides shared fixtures for entitlements tests: signing authorities
// that mint response signatures, deterministic clocks, in-memory stores and purchase data.
package testutil

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lcrostarosa/entitlements/internal/kvstore"
)

// GetTestSeed returns a seed for deterministic testing.
// It checks ENTITLEMENTS_TEST_SEED first, otherwise generates a random seed.
// The seed is logged so failures can be reproduced.
func GetTestSeed(t *testing.T) int64 {
	t.Helper()

	if seedStr := os.Getenv("ENTITLEMENTS_TEST_SEED"); seedStr != "" {
		var seed int64
		if _, err := fmt.Sscanf(seedStr, "%d", &seed); err == nil {
			t.Logf("Using seed from ENTITLEMENTS_TEST_SEED: %d", seed)
			return seed
		}
	}

	n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatalf("Failed to generate random seed: %v", err)
	}
	seed := n.Int64()
	t.Logf("Generated test seed: %d (set ENTITLEMENTS_TEST_SEED=%d to reproduce)", seed, seed)
	return seed
}

// RandomAppUserID returns an app user ID derived from the test seed.
func RandomAppUserID(t *testing.T) string {
	t.Helper()
	r := mrand.New(mrand.NewSource(GetTestSeed(t)))
	return fmt.Sprintf("user_%08x", r.Uint32())
}

// Context returns a context cancelled when the test ends.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// MemoryStore returns an empty in-memory key-value store.
func MemoryStore(t *testing.T) kvstore.Store {
	t.Helper()
	s := kvstore.NewMemory()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the clock's current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
