package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"storyd/internal/store"
	logx "storyd/pkg/logx"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{
		Path: filepath.Join(t.TempDir(), "stats.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOwnerEmpty(t *testing.T) {
	st := newTestStore(t)
	a := New(st, 3)

	got, err := a.Owner(context.Background(), 404)
	if err != nil {
		t.Fatalf("Owner: %v", err)
	}
	if got.Total != 0 {
		t.Fatalf("Total = %d, want 0", got.Total)
	}
	// No activity means no rates, not zero rates.
	if got.SuccessRate != nil || got.AvgRetriesPublished != nil {
		t.Fatalf("rates on empty owner: %+v", got)
	}
	if got.LastPublishedAt != nil || got.NextScheduledAt != nil {
		t.Fatalf("timestamps on empty owner: %+v", got)
	}
}

func TestOwnerRates(t *testing.T) {
	st := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	st.SetNow(func() time.Time { return base })
	ctx := context.Background()
	a := New(st, 3)

	mk := func() *store.Story {
		s, err := st.Create(ctx, store.CreateParams{
			ChatID: 1, FileID: "f", ScheduledAt: base.Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		return s
	}

	// One clean publish, one publish after a retry, one stuck in ERROR.
	s1 := mk()
	if _, err := st.MarkPublished(ctx, s1.ID, "a"); err != nil {
		t.Fatalf("MarkPublished: %v", err)
	}
	s2 := mk()
	if _, err := st.MarkFailed(ctx, s2.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if _, err := st.Readmit(ctx, s2.ID); err != nil {
		t.Fatalf("Readmit: %v", err)
	}
	if _, err := st.MarkPublished(ctx, s2.ID, "b"); err != nil {
		t.Fatalf("MarkPublished: %v", err)
	}
	s3 := mk()
	if _, err := st.MarkFailed(ctx, s3.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, err := a.Owner(ctx, 1)
	if err != nil {
		t.Fatalf("Owner: %v", err)
	}
	if got.Total != 3 {
		t.Fatalf("Total = %d, want 3", got.Total)
	}
	if got.SuccessRate == nil || *got.SuccessRate != 2.0/3.0 {
		t.Fatalf("SuccessRate = %v, want 2/3", got.SuccessRate)
	}
	if got.AvgRetriesPublished == nil || *got.AvgRetriesPublished != 0.5 {
		t.Fatalf("AvgRetriesPublished = %v, want 0.5", got.AvgRetriesPublished)
	}
}

func TestErrorTrendWindow(t *testing.T) {
	st := newTestStore(t)
	base := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	a := New(st, 3)

	fail := func(age time.Duration) {
		st.SetNow(func() time.Time { return base.Add(-age) })
		s, err := st.Create(ctx, store.CreateParams{
			ChatID: 2, FileID: "f", ScheduledAt: base.Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := st.MarkFailed(ctx, s.ID, "boom"); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}
	}

	fail(2 * 24 * time.Hour)
	fail(10 * 24 * time.Hour) // outside the 7-day window

	days, err := a.ErrorTrend(ctx, 2, 7, base)
	if err != nil {
		t.Fatalf("ErrorTrend: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("len(days) = %d, want 1: %+v", len(days), days)
	}
	if days[0].Count != 1 || days[0].MaxRetries != 1 || days[0].PermanentlyFailed != 0 {
		t.Fatalf("day = %+v", days[0])
	}
}
