package collab

import (
	"context"
	"errors"
	"testing"
	"time"

	"bastion.ai/internal/sim/simerr"
)

func TestInvokeSuccess(t *testing.T) {
	res := Invoke(context.Background(), "intent", time.Second, func(context.Context) (string, error) {
		return "ok", nil
	})
	if !res.OK() || res.Value != "ok" {
		t.Fatalf("result: %+v", res)
	}
}

func TestInvokeError(t *testing.T) {
	res := Invoke(context.Background(), "planner", time.Second, func(context.Context) (int, error) {
		return 7, errors.New("model refused")
	})
	var ce *simerr.CollaboratorError
	if !errors.As(res.Err, &ce) || ce.Collaborator != "planner" || ce.Timeout {
		t.Fatalf("err: %v", res.Err)
	}
	if res.Value != 0 {
		t.Fatalf("value should be zeroed on error, got %d", res.Value)
	}
}

func TestInvokeTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	res := Invoke(context.Background(), "renderer", 20*time.Millisecond, func(context.Context) (string, error) {
		<-release
		return "late", nil
	})
	var ce *simerr.CollaboratorError
	if !errors.As(res.Err, &ce) || !ce.Timeout {
		t.Fatalf("expected timeout, got %v", res.Err)
	}
	if res.Elapsed > time.Second {
		t.Fatalf("timeout not honoured: %v", res.Elapsed)
	}
}

func TestInvokePanic(t *testing.T) {
	res := Invoke(context.Background(), "intent", time.Second, func(context.Context) (string, error) {
		panic("bad template")
	})
	if res.OK() {
		t.Fatalf("panic swallowed")
	}
	if simerr.CodeOf(res.Err) == "" {
		t.Fatalf("no code for collaborator error")
	}
}
