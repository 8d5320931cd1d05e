package notify

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func TestMulti_FansOutAndCombinesErrors(t *testing.T) {
	var seen []string
	ok := Func(func(_ context.Context, msg string, _ Severity) error {
		seen = append(seen, msg)
		return nil
	})
	bad1 := Func(func(context.Context, string, Severity) error { return errors.New("one") })
	bad2 := Func(func(context.Context, string, Severity) error { return errors.New("two") })

	m := Multi{ok, nil, bad1, Log{Logger: zap.NewNop()}, bad2}
	err := m.Notify(context.Background(), "hello", SeverityInfo)
	if len(seen) != 1 || seen[0] != "hello" {
		t.Fatalf("notifier not called: %v", seen)
	}
	if errs := multierr.Errors(err); len(errs) != 2 {
		t.Fatalf("want 2 combined errors, got %v", err)
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := (Multi{}).Notify(context.Background(), "x", SeverityError); err != nil {
		t.Fatalf("empty multi should not fail: %v", err)
	}
}
