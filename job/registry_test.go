package job_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/job"
)

type emailArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := job.NewRegistry()

	var got emailArgs
	job.RegisterFunc(r, "send-email", func(_ context.Context, a emailArgs) (any, error) {
		got = a
		return "sent", nil
	})

	h, err := r.Resolve("send-email")
	if err != nil {
		t.Fatalf("expected handler to be registered: %v", err)
	}

	j := &job.Job{Kwargs: map[string]any{"to": "alice@example.com", "subject": "Hello"}}
	res, err := h(context.Background(), j)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "sent" {
		t.Errorf("result = %v, want %q", res, "sent")
	}
	if got.To != "alice@example.com" {
		t.Errorf("To = %q, want %q", got.To, "alice@example.com")
	}
	if got.Subject != "Hello" {
		t.Errorf("Subject = %q, want %q", got.Subject, "Hello")
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := job.NewRegistry()
	_, err := r.Resolve("nonexistent")
	if !errors.Is(err, ostler.ErrHandlerNotFound) {
		t.Fatalf("expected ErrHandlerNotFound, got %v", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := job.NewRegistry()

	for _, name := range []string{"job-a", "job-b", "job-c"} {
		r.Register(name, func(_ context.Context, _ *job.Job) (any, error) { return nil, nil })
	}

	names := r.Names()
	sort.Strings(names)
	if len(names) != 3 {
		t.Fatalf("expected 3 names, got %d", len(names))
	}
	expected := []string{"job-a", "job-b", "job-c"}
	for i, want := range expected {
		if names[i] != want {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want)
		}
	}
}

func TestRegistry_TypedBadKwargs(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterFunc(r, "typed-job", func(_ context.Context, _ emailArgs) (any, error) {
		t.Fatal("handler should not be called with mistyped kwargs")
		return nil, nil
	})

	h, _ := r.Resolve("typed-job")
	j := &job.Job{Kwargs: map[string]any{"to": []any{"not", "a", "string"}}}
	if _, err := h(context.Background(), j); err == nil {
		t.Fatal("expected error for mistyped kwargs")
	}
}

func TestRegistry_EmptyKwargs(t *testing.T) {
	r := job.NewRegistry()
	called := false
	job.RegisterFunc(r, "no-args", func(_ context.Context, _ struct{}) (any, error) {
		called = true
		return nil, nil
	})

	h, _ := r.Resolve("no-args")
	if _, err := h(context.Background(), &job.Job{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty kwargs")
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	r := job.NewRegistry()
	want := errors.New("handler failed")
	r.Register("failing", func(_ context.Context, _ *job.Job) (any, error) {
		return nil, want
	})

	h, _ := r.Resolve("failing")
	if _, err := h(context.Background(), &job.Job{}); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRegistry_OverwriteHandler(t *testing.T) {
	r := job.NewRegistry()

	r.Register("overwrite", func(_ context.Context, _ *job.Job) (any, error) {
		return nil, errors.New("old")
	})
	r.Register("overwrite", func(_ context.Context, _ *job.Job) (any, error) {
		return nil, errors.New("new")
	})

	h, _ := r.Resolve("overwrite")
	_, err := h(context.Background(), &job.Job{})
	if err == nil || err.Error() != "new" {
		t.Fatalf("expected 'new' error, got %v", err)
	}
}
