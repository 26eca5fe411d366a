package contextengine

import (
	"context"
	"errors"
	"testing"
)

func TestLoader_InferContextTypes(t *testing.T) {
	l := NewLoader()
	types := l.InferContextTypes("please implement the retry logic")
	want := map[string]bool{"code_context": true, "file_structure": true, "test_suite": true}
	if len(types) != len(want) {
		t.Fatalf("InferContextTypes() = %v, want keys %v", types, want)
	}
	for _, typ := range types {
		if !want[typ] {
			t.Fatalf("unexpected inferred type %q", typ)
		}
	}
}

func TestLoader_InferContextTypes_ErrorKeyword(t *testing.T) {
	l := NewLoader()
	types := l.InferContextTypes("I'm seeing a stack trace with this error")
	found := map[string]bool{}
	for _, typ := range types {
		found[typ] = true
	}
	if !found["stack_traces"] || !found["error_history"] {
		t.Fatalf("expected stack_traces and error_history, got %v", types)
	}
}

func TestLoader_SynthesizesRegisteredSource(t *testing.T) {
	l := NewLoader()
	l.RegisterSource("code_context", func(ctx context.Context) (string, error) {
		return "package main", nil
	})

	segs := NewSegments()
	result, err := l.Load(context.Background(), segs, "please implement this", 100000, 4)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !segs.HasType("code_context") {
		t.Fatal("expected code_context segment to be synthesized")
	}
	foundLoaded := false
	for _, typ := range result.Loaded {
		if typ == "code_context" {
			foundLoaded = true
		}
	}
	if !foundLoaded {
		t.Fatalf("expected code_context in Loaded, got %v", result.Loaded)
	}
}

func TestLoader_QueuesUnregisteredTypesToPrefetch(t *testing.T) {
	l := NewLoader()
	segs := NewSegments()
	result, err := l.Load(context.Background(), segs, "please implement this", 100000, 4)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(result.PrefetchQueue) == 0 {
		t.Fatal("expected unregistered context types to land in PrefetchQueue")
	}
}

func TestLoader_QueuesWhenBudgetTooSmall(t *testing.T) {
	l := NewLoader()
	l.RegisterSource("code_context", func(ctx context.Context) (string, error) {
		return "a very long body of source code that costs many tokens to represent in full", nil
	})

	segs := NewSegments()
	result, err := l.Load(context.Background(), segs, "please implement this", 1, 4)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if segs.HasType("code_context") {
		t.Fatal("segment should not have been added: over budget")
	}
	found := false
	for _, typ := range result.PrefetchQueue {
		if typ == "code_context" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected code_context in PrefetchQueue, got %v", result.PrefetchQueue)
	}
}

func TestLoader_SourceErrorPropagates(t *testing.T) {
	l := NewLoader()
	sentinel := errors.New("fs unavailable")
	l.RegisterSource("code_context", func(ctx context.Context) (string, error) {
		return "", sentinel
	})

	segs := NewSegments()
	_, err := l.Load(context.Background(), segs, "please implement this", 100000, 4)
	if !errors.Is(err, sentinel) {
		t.Fatalf("Load() error = %v, want wrapping %v", err, sentinel)
	}
}

func TestLoader_SkipsAlreadyLoadedTypes(t *testing.T) {
	l := NewLoader()
	calls := 0
	l.RegisterSource("code_context", func(ctx context.Context) (string, error) {
		calls++
		return "package main", nil
	})

	segs := NewSegments()
	_ = segs.Add(Segment{ID: "existing", Type: "code_context", TokenCount: 5})

	_, err := l.Load(context.Background(), segs, "please implement this", 100000, 4)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if calls != 0 {
		t.Fatalf("source called %d times, want 0 (type already present)", calls)
	}
}
