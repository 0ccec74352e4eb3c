package telegram

import (
	"errors"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "xabar/internal/transport"
)

func TestMapErrorFlood(t *testing.T) {
	t.Parallel()

	base := tele.FloodError{
		RetryAfter: 17,
	}
	got := mapError(base)

	wait, ok := kit.AsThrottle(got)
	if !ok {
		t.Fatalf("expected throttle error, got %v", got)
	}
	if wait != 17*time.Second {
		t.Fatalf("wait = %v, want 17s", wait)
	}
}

func TestMapErrorPassthrough(t *testing.T) {
	t.Parallel()

	orig := errors.New("chat not found")
	got := mapError(orig)
	if got != orig {
		t.Fatalf("got %v, want original error", got)
	}
	if _, ok := kit.AsThrottle(got); ok {
		t.Fatal("plain error must not read as throttle")
	}
}

func TestChatRefRecipient(t *testing.T) {
	t.Parallel()

	for _, ref := range []string{"@mychannel", "-1001234567890"} {
		if got := chatRef(ref).Recipient(); got != ref {
			t.Fatalf("Recipient() = %q, want %q", got, ref)
		}
	}
}
