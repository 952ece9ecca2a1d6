package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"storyd/internal/notify"
	"storyd/internal/publish"
	"storyd/internal/retry"
	"storyd/internal/store"
	logx "storyd/pkg/logx"
)

type fakeExec struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, req publish.Request) (string, error)
}

func (f *fakeExec) Publish(ctx context.Context, req publish.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.StoryID)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return "ext-" + req.StoryID, nil
}

func (f *fakeExec) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type outcome struct {
	id        string
	permanent bool
}

type fakeNotify struct {
	mu        sync.Mutex
	published []string
	failed    []outcome
}

func (f *fakeNotify) Published(_ context.Context, st *store.Story) {
	f.mu.Lock()
	f.published = append(f.published, st.ID)
	f.mu.Unlock()
}

func (f *fakeNotify) Failed(_ context.Context, st *store.Story, permanent bool) {
	f.mu.Lock()
	f.failed = append(f.failed, outcome{id: st.ID, permanent: permanent})
	f.mu.Unlock()
}

var _ notify.Notifier = (*fakeNotify)(nil)

type fixture struct {
	st   *store.Store
	svc  *Service
	exec *fakeExec
	not  *fakeNotify
	base time.Time
	now  time.Time
}

func newFixture(t *testing.T, cfg Config, pol retry.Policy) *fixture {
	t.Helper()
	st, err := store.Open(store.Config{
		Path: filepath.Join(t.TempDir(), "dispatch.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		st:   st,
		exec: &fakeExec{},
		not:  &fakeNotify{},
		base: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	f.now = f.base
	st.SetNow(func() time.Time { return f.now })

	f.svc = New(cfg, pol, st, f.exec, f.not, logx.Nop())
	f.svc.SetNow(func() time.Time { return f.now })
	return f
}

func (f *fixture) addDue(t *testing.T) *store.Story {
	t.Helper()
	s, err := f.st.Create(context.Background(), store.CreateParams{
		ChatID: 1, FileID: "file", ScheduledAt: f.now.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.now = f.now.Add(time.Minute)
	return s
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := f.svc.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	f.svc.Drain(dctx)
}

func TestTickPublishesDue(t *testing.T) {
	f := newFixture(t, Config{Enabled: true}, retry.Default())
	s := f.addDue(t)

	f.tick(t)

	got, err := f.st.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != store.StatusPublished {
		t.Fatalf("Status = %s, want PUBLISHED", got.Status)
	}
	if got.ExternalID != "ext-"+s.ID {
		t.Fatalf("ExternalID = %s", got.ExternalID)
	}
	if len(f.not.published) != 1 || f.not.published[0] != s.ID {
		t.Fatalf("notifier published = %v", f.not.published)
	}

	evs, err := f.st.Events(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	last := evs[len(evs)-1]
	if last.Kind != store.EventPublished {
		t.Fatalf("last event = %s, want published", last.Kind)
	}
}

func TestTickDisabled(t *testing.T) {
	f := newFixture(t, Config{Enabled: false}, retry.Default())
	f.addDue(t)

	f.tick(t)

	if n := f.exec.callCount(); n != 0 {
		t.Fatalf("executor called %d times while disabled", n)
	}
}

func TestFailureChainToExhaustion(t *testing.T) {
	pol := retry.Policy{Ceiling: 3, Delay: 5 * time.Minute}
	f := newFixture(t, Config{Enabled: true}, pol)
	f.exec.fn = func(context.Context, publish.Request) (string, error) {
		return "", errors.New("connection refused")
	}
	s := f.addDue(t)

	// Each cycle: one attempt fails, then the delay elapses and the
	// evaluator re-admits the story for the next tick.
	for i := 0; i < pol.Ceiling; i++ {
		f.tick(t)
		got, err := f.st.Get(context.Background(), s.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != store.StatusError || got.RetryCount != i+1 {
			t.Fatalf("cycle %d: status=%s retry_count=%d", i, got.Status, got.RetryCount)
		}
		f.now = f.now.Add(pol.Delay + time.Second)
	}

	// At the ceiling nothing is re-admitted again.
	f.tick(t)
	got, _ := f.st.Get(context.Background(), s.ID)
	if got.Status != store.StatusError || got.RetryCount != pol.Ceiling {
		t.Fatalf("after exhaustion: status=%s retry_count=%d", got.Status, got.RetryCount)
	}
	if n := f.exec.callCount(); n != pol.Ceiling {
		t.Fatalf("executor called %d times, want %d", n, pol.Ceiling)
	}

	if len(f.not.failed) != pol.Ceiling {
		t.Fatalf("failed notifications = %d, want %d", len(f.not.failed), pol.Ceiling)
	}
	for i, o := range f.not.failed {
		wantPermanent := i == pol.Ceiling-1
		if o.permanent != wantPermanent {
			t.Fatalf("notification %d permanent = %v, want %v", i, o.permanent, wantPermanent)
		}
	}
	if got.ErrorMessage != "connection refused" {
		t.Fatalf("ErrorMessage = %q", got.ErrorMessage)
	}
}

func TestOneFailureDoesNotBlockBatch(t *testing.T) {
	f := newFixture(t, Config{Enabled: true}, retry.Default())
	bad := f.addDue(t)
	good := f.addDue(t)
	f.exec.fn = func(_ context.Context, req publish.Request) (string, error) {
		if req.StoryID == bad.ID {
			return "", errors.New("boom")
		}
		return "ext-ok", nil
	}

	f.tick(t)

	gotBad, _ := f.st.Get(context.Background(), bad.ID)
	gotGood, _ := f.st.Get(context.Background(), good.ID)
	if gotBad.Status != store.StatusError {
		t.Fatalf("bad status = %s, want ERROR", gotBad.Status)
	}
	if gotGood.Status != store.StatusPublished {
		t.Fatalf("good status = %s, want PUBLISHED", gotGood.Status)
	}
}

func TestTimeoutMarksError(t *testing.T) {
	f := newFixture(t, Config{Enabled: true, JobTimeout: 50 * time.Millisecond}, retry.Default())
	f.exec.fn = func(context.Context, publish.Request) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "", context.DeadlineExceeded
	}
	s := f.addDue(t)

	f.tick(t)

	got, err := f.st.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != store.StatusError {
		t.Fatalf("Status = %s, want ERROR", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("ErrorMessage empty after timeout")
	}
}

func TestInflightStoryNotReselected(t *testing.T) {
	f := newFixture(t, Config{Enabled: true, MaxConcurrent: 2}, retry.Default())
	hold := make(chan struct{})
	f.exec.fn = func(context.Context, publish.Request) (string, error) {
		<-hold
		return "ext", nil
	}
	s := f.addDue(t)

	ctx := context.Background()
	if err := f.svc.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	// Second tick while the first attempt is still running must skip it.
	if err := f.svc.Tick(ctx); err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	close(hold)
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	f.svc.Drain(dctx)

	if n := f.exec.callCount(); n != 1 {
		t.Fatalf("executor called %d times, want 1", n)
	}
	got, _ := f.st.Get(context.Background(), s.ID)
	if got.Status != store.StatusPublished {
		t.Fatalf("Status = %s, want PUBLISHED", got.Status)
	}
}

func TestReadmitWritesEvent(t *testing.T) {
	pol := retry.Policy{Ceiling: 3, Delay: 5 * time.Minute}
	f := newFixture(t, Config{Enabled: true}, pol)
	attempts := 0
	f.exec.fn = func(context.Context, publish.Request) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("transient")
		}
		return "ext", nil
	}
	s := f.addDue(t)

	f.tick(t)
	f.now = f.now.Add(pol.Delay + time.Second)
	f.tick(t)

	got, err := f.st.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != store.StatusPublished || got.RetryCount != 1 {
		t.Fatalf("story = status=%s retry_count=%d", got.Status, got.RetryCount)
	}

	evs, err := f.st.Events(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	var kinds []string
	for _, e := range evs {
		kinds = append(kinds, e.Kind)
	}
	want := []string{
		store.EventCreated,
		store.EventDispatchAttempt,
		store.EventRetryScheduled,
		store.EventPublished,
	}
	if len(kinds) != len(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestAttemptSurvivesTickContextCancel(t *testing.T) {
	f := newFixture(t, Config{Enabled: true}, retry.Default())
	f.exec.fn = func(ctx context.Context, _ publish.Request) (string, error) {
		// Behaves like a real HTTP client: aborts as soon as ctx dies.
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
			return "ext", nil
		}
	}
	s := f.addDue(t)

	tctx, cancel := context.WithCancel(context.Background())
	if err := f.svc.Tick(tctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	// The tick driver releases its context as soon as Tick returns.
	cancel()

	dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dcancel()
	f.svc.Drain(dctx)

	got, err := f.st.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != store.StatusPublished {
		t.Fatalf("Status = %s (error %q), want PUBLISHED: the attempt must not share the tick's lifetime",
			got.Status, got.ErrorMessage)
	}
	if got.RetryCount != 0 {
		t.Fatalf("RetryCount = %d, want 0", got.RetryCount)
	}
}

func TestDrainTimeoutAbortsAttempts(t *testing.T) {
	f := newFixture(t, Config{Enabled: true}, retry.Default())
	f.exec.fn = func(ctx context.Context, _ publish.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	s := f.addDue(t)

	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	dctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	f.svc.Drain(dctx)

	got, err := f.st.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != store.StatusError {
		t.Fatalf("Status = %s, want ERROR after aborted attempt", got.Status)
	}
}
