package logx

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{in: "trace", want: zerolog.TraceLevel},
		{in: "DEBUG", want: zerolog.DebugLevel},
		{in: " info ", want: zerolog.InfoLevel},
		{in: "warning", want: zerolog.WarnLevel},
		{in: "error", want: zerolog.ErrorLevel},
		{in: "", want: zerolog.InfoLevel},
		{in: "verbose", want: zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// Must not panic.
	l.Info("ignored", String("k", "v"), Err(nil))
	l.With(Int("n", 1)).Error("ignored too")
}

func TestNopLoggerNotZero(t *testing.T) {
	t.Parallel()
	l := Nop()
	if l.IsZero() {
		t.Fatal("Nop logger should not be zero, it is deliberately configured")
	}
	l.Warn("dropped")
}

func TestWithDoesNotMutateParent(t *testing.T) {
	t.Parallel()
	parent := Nop().With(String("a", "1"))
	child := parent.With(String("b", "2"))
	if len(parent.fields) != 1 {
		t.Fatalf("parent fields = %d, want 1", len(parent.fields))
	}
	if len(child.fields) != 2 {
		t.Fatalf("child fields = %d, want 2", len(child.fields))
	}
}
