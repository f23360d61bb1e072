package signal

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRoomRateLimiter(2, time.Second)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two messages should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third message inside the window should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("limits are per session")
	}

	now = now.Add(1100 * time.Millisecond)
	if !rl.Allow("a") {
		t.Fatal("message after the window should pass")
	}
}

func TestRateLimiterForget(t *testing.T) {
	rl := NewRoomRateLimiter(1, time.Hour)
	rl.Allow("a")
	if rl.Allow("a") {
		t.Fatal("second message should be limited")
	}
	rl.Forget("a")
	if !rl.Allow("a") {
		t.Fatal("forgotten session should start fresh")
	}
}
