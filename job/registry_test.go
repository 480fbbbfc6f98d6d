package job_test

import (
	"context"
	"errors"
	"testing"

	"github.com/runelab/sked/job"
)

type greetPayload struct {
	Name string `json:"name"`
}

func TestRegisterAndGet(t *testing.T) {
	t.Parallel()
	r := job.NewRegistry()

	var got greetPayload
	def := job.NewDefinition("greet", func(_ context.Context, p greetPayload) error {
		got = p
		return nil
	})
	job.RegisterDefinition(r, def)

	h, ok := r.Get("greet")
	if !ok {
		t.Fatal("handler not found after registration")
	}

	if err := h(context.Background(), []byte(`{"name":"alice"}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got.Name != "alice" {
		t.Errorf("payload.Name = %q, want %q", got.Name, "alice")
	}
}

func TestGetUnknown(t *testing.T) {
	t.Parallel()
	r := job.NewRegistry()

	if _, ok := r.Get("nope"); ok {
		t.Error("Get returned a handler for an unregistered name")
	}
}

func TestEmptyPayloadSkipsUnmarshal(t *testing.T) {
	t.Parallel()
	r := job.NewRegistry()

	called := false
	def := job.NewDefinition("noop", func(_ context.Context, _ struct{}) error {
		called = true
		return nil
	})
	job.RegisterDefinition(r, def)

	h, _ := r.Get("noop")
	if err := h(context.Background(), nil); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !called {
		t.Error("handler was not called for empty payload")
	}
}

func TestMalformedPayloadIsError(t *testing.T) {
	t.Parallel()
	r := job.NewRegistry()

	def := job.NewDefinition("greet", func(_ context.Context, _ greetPayload) error {
		t.Error("handler must not run on malformed payload")
		return nil
	})
	job.RegisterDefinition(r, def)

	h, _ := r.Get("greet")
	if err := h(context.Background(), []byte(`{not json`)); err == nil {
		t.Fatal("expected unmarshal error, got nil")
	}
}

func TestHandlerErrorPropagates(t *testing.T) {
	t.Parallel()
	r := job.NewRegistry()

	sentinel := errors.New("boom")
	def := job.NewDefinition("failing", func(_ context.Context, _ struct{}) error {
		return sentinel
	})
	job.RegisterDefinition(r, def)

	h, _ := r.Get("failing")
	if err := h(context.Background(), nil); !errors.Is(err, sentinel) {
		t.Fatalf("got %v, want sentinel error", err)
	}
}

func TestNames(t *testing.T) {
	t.Parallel()
	r := job.NewRegistry()

	r.RegisterFunc("a", func(context.Context, []byte) error { return nil })
	r.RegisterFunc("b", func(context.Context, []byte) error { return nil })

	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("Names() returned %d entries, want 2", len(names))
	}
}

func TestDefinitionOptions(t *testing.T) {
	t.Parallel()

	def := job.NewDefinition("opts", func(_ context.Context, _ struct{}) error { return nil },
		job.WithMaxAttempts(5),
		job.WithSchedule("15m"),
	)

	if def.Opts.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", def.Opts.MaxAttempts)
	}
	if def.Opts.Schedule != "15m" {
		t.Errorf("Schedule = %q, want %q", def.Opts.Schedule, "15m")
	}
}
