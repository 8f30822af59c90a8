package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/fivexhq/fivex/internal/protocol"
)

func TestFixed_InvokeForStatus_Sequence(t *testing.T) {
	f := &Fixed{Statuses: []InvokeStatus{
		{Status: protocol.AuthorStatus{Result: protocol.ResultComplete, Commit: "a"}},
		{Status: protocol.AuthorStatus{Result: protocol.ResultFailed, Reason: "x"}},
	}}

	got1, err := f.InvokeForStatus(context.Background(), InvokeOptions{})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if got1.Status.Commit != "a" {
		t.Fatalf("expected commit a, got %q", got1.Status.Commit)
	}

	got2, err := f.InvokeForStatus(context.Background(), InvokeOptions{})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got2.Status.Result != protocol.ResultFailed {
		t.Fatalf("expected failed result, got %q", got2.Status.Result)
	}
}

func TestFixed_InvokeForStatus_ExhaustedQueue(t *testing.T) {
	f := &Fixed{Statuses: []InvokeStatus{{Status: protocol.AuthorStatus{Result: protocol.ResultComplete, Commit: "a"}}}}
	if _, err := f.InvokeForStatus(context.Background(), InvokeOptions{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := f.InvokeForStatus(context.Background(), InvokeOptions{}); err == nil {
		t.Fatal("expected error once queue exhausted")
	}
}

func TestFixed_ErrAt(t *testing.T) {
	wantErr := errors.New("boom")
	f := &Fixed{
		Statuses: []InvokeStatus{{}, {Status: protocol.AuthorStatus{Result: protocol.ResultComplete, Commit: "a"}}},
		ErrAt:    map[int]error{0: wantErr},
	}
	if _, err := f.InvokeForStatus(context.Background(), InvokeOptions{}); !errors.Is(err, wantErr) {
		t.Fatalf("expected wantErr, got %v", err)
	}
	got, err := f.InvokeForStatus(context.Background(), InvokeOptions{})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got.Status.Commit != "a" {
		t.Fatalf("expected commit a, got %q", got.Status.Commit)
	}
}

func TestFixed_OnSessionCreated_BestEffort(t *testing.T) {
	f := &Fixed{Verdicts: []InvokeVerdict{{Usage: Usage{SessionID: "sess-1"}, Verdict: protocol.ReviewerVerdict{Readiness: protocol.ReadinessReady}}}}
	called := false
	_, err := f.InvokeForVerdict(context.Background(), InvokeOptions{OnSessionCreated: func(id string) {
		called = true
		panic("callback panics must not fail invocation")
	}})
	if err != nil {
		t.Fatalf("unexpected error despite panicking callback: %v", err)
	}
	if !called {
		t.Fatal("expected callback to be invoked")
	}
}
