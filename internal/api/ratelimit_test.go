//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"testing"
	"time"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("learner") || !rl.Allow("learner") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("learner") {
		t.Error("third request inside the window should be rejected")
	}
	if !rl.Allow("other") {
		t.Error("keys should be limited independently")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("learner") {
		t.Error("request after the window should pass")
	}
}
