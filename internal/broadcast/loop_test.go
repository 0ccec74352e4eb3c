package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"xabar/internal/storage"
	kit "xabar/internal/transport"
	logx "xabar/pkg/logx"
)

type fakeStore struct {
	mu    sync.Mutex
	jobs  map[int64]storage.Job
	subs  map[int64]storage.Subscription
	dests map[int64][]storage.Destination
	creds map[int64]storage.Credential
	runs  map[int64]int // job id -> RecordJobRun calls
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:  make(map[int64]storage.Job),
		subs:  make(map[int64]storage.Subscription),
		dests: make(map[int64][]storage.Destination),
		creds: make(map[int64]storage.Credential),
		runs:  make(map[int64]int),
	}
}

func (f *fakeStore) ListActiveJobs(context.Context) ([]storage.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Job
	for _, j := range f.jobs {
		if j.Active {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) Subscription(_ context.Context, owner int64) (storage.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[owner]
	if !ok {
		return storage.Subscription{}, storage.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) ActiveDestinations(_ context.Context, owner int64) ([]storage.Destination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dests[owner], nil
}

func (f *fakeStore) ActiveCredential(_ context.Context, owner int64) (storage.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[owner]
	if !ok {
		return storage.Credential{}, storage.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) RecordJobRun(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	j.LastRun = at
	j.SentCount++
	f.jobs[id] = j
	f.runs[id]++
	return nil
}

func (f *fakeStore) runCount(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id]
}

func (f *fakeStore) job(id int64) storage.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

// seedJob installs an owner with an active sub, two destinations, a
// credential, and one active job with a 60s interval.
func seedJob(f *fakeStore, now time.Time) storage.Job {
	const owner = int64(7)
	f.subs[owner] = storage.Subscription{Owner: owner, PaidUntil: now.Add(24 * time.Hour)}
	f.dests[owner] = []storage.Destination{
		{ID: 1, Owner: owner, ChatRef: "@a", Active: true},
		{ID: 2, Owner: owner, ChatRef: "@b", Active: true},
	}
	f.creds[owner] = storage.Credential{ID: 3, Owner: owner, Token: "tok", Active: true}
	job := storage.Job{ID: 10, Owner: owner, Body: "ad", Interval: time.Minute, Active: true}
	f.jobs[job.ID] = job
	return job
}

func newTestLoop(store *fakeStore, sender *fakeSender) *Service {
	cfg := Config{Enabled: true, Tick: time.Second, MinInterval: 15 * time.Second, Pacing: time.Millisecond}
	return New(store, sender, cfg, logx.Nop())
}

func TestProcessJobFirstRun(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	job := seedJob(store, now)
	sender := newFakeSender()
	s := newTestLoop(store, sender)

	if !s.processJob(context.Background(), job, now) {
		t.Fatal("first tick should run the job")
	}
	if got := sender.sent(); len(got) != 2 || got[0] != "@a" || got[1] != "@b" {
		t.Fatalf("sends = %v", got)
	}
	if store.runCount(job.ID) != 1 {
		t.Fatalf("run records = %d, want 1", store.runCount(job.ID))
	}
	after := store.job(job.ID)
	if !after.LastRun.Equal(now) || after.SentCount != 1 {
		t.Fatalf("bookkeeping: lastRun=%v sentCount=%d", after.LastRun, after.SentCount)
	}
}

func TestProcessJobNotDueYet(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	job := seedJob(store, now)
	sender := newFakeSender()
	s := newTestLoop(store, sender)

	if !s.processJob(context.Background(), job, now) {
		t.Fatal("first tick should run")
	}
	// Ten seconds later the 60s cadence has not elapsed.
	later := now.Add(10 * time.Second)
	if s.processJob(context.Background(), store.job(job.ID), later) {
		t.Fatal("second tick ran too early")
	}
	if store.runCount(job.ID) != 1 {
		t.Fatalf("run records = %d, want 1", store.runCount(job.ID))
	}
	if got := sender.sent(); len(got) != 2 {
		t.Fatalf("sends = %v, want only the first pass", got)
	}
}

func TestProcessJobExpiredSubscription(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	job := seedJob(store, now)
	store.subs[job.Owner] = storage.Subscription{Owner: job.Owner, PaidUntil: now.Add(-24 * time.Hour)}
	sender := newFakeSender()
	s := newTestLoop(store, sender)

	for i := 0; i < 3; i++ {
		if s.processJob(context.Background(), store.job(job.ID), now.Add(time.Duration(i)*8*time.Second)) {
			t.Fatal("expired owner must never run")
		}
	}
	if store.runCount(job.ID) != 0 {
		t.Fatal("bookkeeping must not move for an ineligible job")
	}
	if got := sender.sent(); len(got) != 0 {
		t.Fatalf("sends = %v, want none", got)
	}
}

func TestProcessJobNoCredential(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	job := seedJob(store, now)
	delete(store.creds, job.Owner)
	sender := newFakeSender()
	s := newTestLoop(store, sender)

	if s.processJob(context.Background(), job, now) {
		t.Fatal("job without a credential must not run")
	}
	if store.runCount(job.ID) != 0 {
		t.Fatal("bookkeeping must not move")
	}
}

func TestProcessJobRecordsOnceDespiteFailures(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	job := seedJob(store, now)
	sender := newFakeSender()
	sender.script("@a", errors.New("kicked from chat"))
	sender.script("@b", errors.New("chat not found"))
	s := newTestLoop(store, sender)

	if !s.processJob(context.Background(), job, now) {
		t.Fatal("an attempted pass still counts as run")
	}
	if store.runCount(job.ID) != 1 {
		t.Fatalf("run records = %d, want exactly 1", store.runCount(job.ID))
	}
	if store.job(job.ID).SentCount != 1 {
		t.Fatalf("sentCount = %d, want 1", store.job(job.ID).SentCount)
	}
}

func TestProcessJobThrottledDestinationStillRecordsOnce(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	job := seedJob(store, now)
	sender := newFakeSender()
	sender.script("@a", kit.Throttle(errors.New("flood"), 5*time.Millisecond))
	s := newTestLoop(store, sender)

	if !s.processJob(context.Background(), job, now) {
		t.Fatal("pass should run")
	}
	// The throttled destination was retried and the other one attempted;
	// the counter still moves by exactly one.
	if store.runCount(job.ID) != 1 {
		t.Fatalf("run records = %d, want 1", store.runCount(job.ID))
	}
	if got := sender.sent(); len(got) != 3 {
		t.Fatalf("sends = %v", got)
	}
}

func TestRunTickIsolatesJobs(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	good := seedJob(store, now)

	// A second job whose owner has no subscription row at all; its reads
	// fail with not-found and must not disturb the good job.
	orphan := storage.Job{ID: 11, Owner: 99, Body: "x", Interval: time.Minute, Active: true}
	store.jobs[orphan.ID] = orphan

	sender := newFakeSender()
	s := newTestLoop(store, sender)

	s.runTick(context.Background(), now)

	if store.runCount(good.ID) != 1 {
		t.Fatalf("good job runs = %d, want 1", store.runCount(good.ID))
	}
	if store.runCount(orphan.ID) != 0 {
		t.Fatal("orphan job must not run")
	}
}
