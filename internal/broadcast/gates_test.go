package broadcast

import (
	"testing"
	"time"

	"xabar/internal/storage"
)

func TestEligible(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	goodSub := storage.Subscription{Owner: 1, PaidUntil: now.Add(24 * time.Hour)}
	goodDests := []storage.Destination{{ID: 1, ChatRef: "@a"}}
	goodCred := storage.Credential{ID: 1, Token: "tok", Active: true}

	cases := []struct {
		name  string
		job   storage.Job
		sub   storage.Subscription
		dests []storage.Destination
		cred  storage.Credential
		want  bool
	}{
		{"all good", storage.Job{Active: true}, goodSub, goodDests, goodCred, true},
		{"inactive job", storage.Job{Active: false}, goodSub, goodDests, goodCred, false},
		{"expired sub", storage.Job{Active: true},
			storage.Subscription{Owner: 1, PaidUntil: now.Add(-time.Hour)}, goodDests, goodCred, false},
		{"never subscribed", storage.Job{Active: true},
			storage.Subscription{Owner: 1}, goodDests, goodCred, false},
		{"no destinations", storage.Job{Active: true}, goodSub, nil, goodCred, false},
		{"inactive credential", storage.Job{Active: true}, goodSub, goodDests,
			storage.Credential{ID: 1, Token: "tok", Active: false}, false},
		{"empty token", storage.Job{Active: true}, goodSub, goodDests,
			storage.Credential{ID: 1, Active: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := eligible(tc.job, tc.sub, tc.dests, tc.cred, now); got != tc.want {
				t.Fatalf("eligible = %v, want %v", got, tc.want)
			}
			// Pure function: the same inputs give the same answer.
			if again := eligible(tc.job, tc.sub, tc.dests, tc.cred, now); again != tc.want {
				t.Fatalf("second call = %v, want %v", again, tc.want)
			}
		})
	}
}

func TestDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	min := 15 * time.Second

	cases := []struct {
		name     string
		interval time.Duration
		lastRun  time.Time
		want     bool
	}{
		{"never run", time.Minute, time.Time{}, true},
		{"half elapsed", time.Minute, now.Add(-30 * time.Second), false},
		{"exactly at boundary", time.Minute, now.Add(-time.Minute), true},
		{"past boundary", time.Minute, now.Add(-2 * time.Minute), true},
		{"interval below minimum is clamped", time.Second, now.Add(-5 * time.Second), false},
		{"clamped interval elapsed", time.Second, now.Add(-min), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			job := storage.Job{Interval: tc.interval, LastRun: tc.lastRun}
			if got := due(job, min, now); got != tc.want {
				t.Fatalf("due = %v, want %v", got, tc.want)
			}
		})
	}
}
