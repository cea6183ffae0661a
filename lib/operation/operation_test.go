// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package operation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/buildavoid/lib/clock"
)

func TestRecorderRecordsOutcome(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	recorder := NewRecorder(fake)

	err := recorder.Run(context.Background(), Details{DisplayName: "Load entry", Name: "cache.load", Descriptor: "k1"},
		func(ctx context.Context, op *Context) error {
			fake.Advance(3 * time.Second)
			op.SetResult(map[string]bool{"hit": true})
			return nil
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	operations := recorder.Operations()
	if len(operations) != 1 {
		t.Fatalf("recorded %d operations, want 1", len(operations))
	}
	got := operations[0]
	if got.Duration != 3*time.Second {
		t.Errorf("Duration = %v, want 3s", got.Duration)
	}
	if got.Err != nil {
		t.Errorf("Err = %v, want nil", got.Err)
	}
	if result, _ := got.Result.(map[string]bool); !result["hit"] {
		t.Errorf("Result = %v, want hit", got.Result)
	}
	if got.Details.Descriptor != "k1" {
		t.Errorf("Descriptor = %v, want k1", got.Details.Descriptor)
	}
}

func TestRunReturnsActionErrorUnchanged(t *testing.T) {
	recorder := NewRecorder(nil)
	sentinel := errors.New("boom")
	err := recorder.Run(context.Background(), Details{Name: "failing"}, func(context.Context, *Context) error {
		return sentinel
	})
	if err != sentinel {
		t.Errorf("Run error = %v, want the action's error", err)
	}
	if recorded := recorder.Named("failing"); len(recorded) != 1 || recorded[0].Err != sentinel {
		t.Errorf("recorded = %+v, want one failure", recorded)
	}
}

func TestFailedMarksOperationWithoutError(t *testing.T) {
	recorder := NewRecorder(nil)
	degraded := errors.New("remote disabled")
	err := recorder.Run(context.Background(), Details{Name: "degraded"}, func(_ context.Context, op *Context) error {
		op.Failed(degraded)
		return nil
	})
	if err != nil {
		t.Fatalf("Run error = %v, want nil", err)
	}
	if recorded := recorder.Named("degraded"); recorded[0].Err != degraded {
		t.Errorf("recorded Err = %v, want %v", recorded[0].Err, degraded)
	}
}

func TestNestingRecordsParent(t *testing.T) {
	recorder := NewRecorder(nil)
	var outerID uint64
	err := recorder.Run(context.Background(), Details{Name: "outer"}, func(ctx context.Context, op *Context) error {
		outerID = op.ID()
		if CurrentID(ctx) != outerID {
			t.Errorf("CurrentID = %d, want %d", CurrentID(ctx), outerID)
		}
		return recorder.Run(ctx, Details{Name: "inner"}, func(context.Context, *Context) error {
			return nil
		})
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	inner := recorder.Named("inner")
	if len(inner) != 1 {
		t.Fatalf("recorded %d inner operations, want 1", len(inner))
	}
	if inner[0].Parent != outerID {
		t.Errorf("inner Parent = %d, want %d", inner[0].Parent, outerID)
	}
	if outer := recorder.Named("outer"); outer[0].Parent != 0 {
		t.Errorf("outer Parent = %d, want 0", outer[0].Parent)
	}

	// Completion order: inner finishes first.
	operations := recorder.Operations()
	if operations[0].Details.Name != "inner" || operations[1].Details.Name != "outer" {
		t.Errorf("completion order = %s, %s", operations[0].Details.Name, operations[1].Details.Name)
	}
}

func TestPanicIsRecordedAndReraised(t *testing.T) {
	recorder := NewRecorder(nil)
	defer func() {
		if recovered := recover(); recovered != "kaboom" {
			t.Errorf("recovered %v, want kaboom", recovered)
		}
		recorded := recorder.Named("panics")
		if len(recorded) != 1 || recorded[0].Err == nil {
			t.Errorf("recorded = %+v, want one failed operation", recorded)
		}
	}()
	recorder.Run(context.Background(), Details{Name: "panics"}, func(context.Context, *Context) error {
		panic("kaboom")
	})
}

func TestCallReturnsValue(t *testing.T) {
	value, err := Call(context.Background(), Inline(), Details{Name: "answer"},
		func(context.Context, *Context) (int, error) {
			return 42, nil
		})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if value != 42 {
		t.Errorf("value = %d, want 42", value)
	}
}

func TestCallPropagatesError(t *testing.T) {
	sentinel := errors.New("nope")
	value, err := Call(context.Background(), Inline(), Details{Name: "fails"},
		func(context.Context, *Context) (string, error) {
			return "ignored", sentinel
		})
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want %v", err, sentinel)
	}
	if value != "" {
		t.Errorf("value = %q, want zero value", value)
	}
}

// skipping never runs the action, the way a broken boundary might.
type skipping struct{}

func (skipping) Run(context.Context, Details, Action) error { return nil }

func TestCallDetectsUnsetResult(t *testing.T) {
	_, err := Call(context.Background(), skipping{}, Details{Name: "skipped"},
		func(context.Context, *Context) (int, error) {
			return 1, nil
		})
	if !errors.Is(err, ErrResultNotSet) {
		t.Errorf("err = %v, want ErrResultNotSet", err)
	}
}

func TestHolderPanicsOnSecondWrite(t *testing.T) {
	var holder Holder[string]
	holder.Set("first")
	defer func() {
		if recover() == nil {
			t.Error("second Set did not panic")
		}
		if value, _ := holder.Get(); value != "first" {
			t.Errorf("value = %q, want first", value)
		}
	}()
	holder.Set("second")
}

func TestConfigureTracking(t *testing.T) {
	recorder := NewRecorder(nil)

	value, err := Configure(context.Background(), recorder, Tracked("Configure local cache"),
		func(context.Context) (string, error) { return "local", nil })
	if err != nil || value != "local" {
		t.Fatalf("Configure = %q, %v", value, err)
	}
	value, err = Configure(context.Background(), recorder, Untracked,
		func(context.Context) (string, error) { return "plain", nil })
	if err != nil || value != "plain" {
		t.Fatalf("Configure = %q, %v", value, err)
	}

	configured := recorder.Named("configure")
	if len(configured) != 1 {
		t.Fatalf("recorded %d configure operations, want 1", len(configured))
	}
	if configured[0].Details.DisplayName != "Configure local cache" {
		t.Errorf("DisplayName = %q", configured[0].Details.DisplayName)
	}
	if _, tracked := Untracked.DisplayName(); tracked {
		t.Error("Untracked reports tracked")
	}
}

func TestLogExecutorLogsAndRecords(t *testing.T) {
	var buffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buffer, &slog.HandlerOptions{Level: slog.LevelDebug}))
	recorder := NewRecorder(nil)
	executor := NewLogExecutor(logger, nil, recorder)

	executor.Run(context.Background(), Details{DisplayName: "Store entry"}, func(context.Context, *Context) error {
		return nil
	})
	executor.Run(context.Background(), Details{DisplayName: "Load entry"}, func(context.Context, *Context) error {
		return errors.New("connection refused")
	})

	output := buffer.String()
	for _, want := range []string{
		"operation started",
		"operation finished",
		`operation="Store entry"`,
		"level=WARN",
		"connection refused",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("log output missing %q:\n%s", want, output)
		}
	}
	if len(recorder.Operations()) != 2 {
		t.Errorf("recorder has %d operations, want 2", len(recorder.Operations()))
	}
}
