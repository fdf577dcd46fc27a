package attendance

import (
	"context"
	"fmt"
	"log"
	"time"
)

// RateLimitedError tells the kiosk how long to wait before retrying.
type RateLimitedError struct {
	Wait int // remaining cooldown, seconds
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("Terlalu cepat. Tunggu %d detik.", e.Wait)
}

// RateGuard absorbs double taps and scanner bounce by refusing a new event
// while the employee's most recent event is inside the cooldown window.
// It is a courtesy check only; the state machine alone keeps the ledger
// correct, so any lookup failure fails open.
type RateGuard struct {
	ledger   Ledger
	cooldown time.Duration

	// Now is swappable in tests.
	Now func() time.Time
}

// NewRateGuard builds a guard; cooldown <= 0 falls back to 5 seconds.
func NewRateGuard(ledger Ledger, cooldown time.Duration) *RateGuard {
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	return &RateGuard{ledger: ledger, cooldown: cooldown, Now: time.Now}
}

// Check returns *RateLimitedError when the employee submitted too recently.
func (g *RateGuard) Check(ctx context.Context, employeeID string) error {
	last, err := g.ledger.LastEvent(ctx, employeeID)
	if err != nil {
		log.Printf("rate guard lookup failed for %s, allowing: %v", employeeID, err)
		return nil
	}
	if last == nil {
		return nil
	}
	elapsed := g.Now().Sub(last.OccurredAt)
	if elapsed >= g.cooldown {
		return nil
	}
	wait := int((g.cooldown - elapsed + time.Second - 1) / time.Second)
	if wait < 1 {
		wait = 1
	}
	return &RateLimitedError{Wait: wait}
}
