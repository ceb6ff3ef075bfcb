package hook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alucardeht/lspipe/pkg/protocol"
)

type upperHook struct {
	Base
	note string
}

func (h *upperHook) OnRequest(_ context.Context, req *protocol.Request) (*Output, error) {
	out := &Output{Message: &protocol.Request{
		ID:     req.ID,
		Method: req.Method,
		Params: json.RawMessage(`{"rewritten":true}`),
	}}
	if h.note != "" {
		out.Notifications = append(out.Notifications, &protocol.Notification{Method: h.note})
	}
	return out, nil
}

type failingHook struct {
	Base
}

func (failingHook) OnRequest(context.Context, *protocol.Request) (*Output, error) {
	return nil, errors.New("boom")
}

func TestBaseIsIdentity(t *testing.T) {
	req := &protocol.Request{ID: protocol.NumberID(1), Method: "m"}
	out, err := Base{}.OnRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("identity hook failed: %v", err)
	}
	if out.Message != req {
		t.Error("expected the same request back")
	}
	if len(out.Notifications) != 0 {
		t.Errorf("expected no notifications, got %d", len(out.Notifications))
	}
}

func TestRegistryReplaces(t *testing.T) {
	r := NewRegistry()
	first := &upperHook{}
	second := &upperHook{note: "n"}

	r.Register("textDocument/hover", first)
	r.Register("textDocument/hover", second)

	h, ok := r.Lookup("textDocument/hover")
	if !ok {
		t.Fatal("expected hook to be registered")
	}
	if h != second {
		t.Error("expected later registration to win")
	}
	if _, ok := r.Lookup("textDocument/completion"); ok {
		t.Error("expected no hook for unregistered method")
	}
}

func TestRegistryMethods(t *testing.T) {
	r := NewRegistry()
	r.Register("b", Base{})
	r.Register("a", Base{})

	methods := r.Methods()
	if len(methods) != 2 || methods[0] != "a" || methods[1] != "b" {
		t.Errorf("expected sorted [a b], got %v", methods)
	}
}

func TestChainAccumulates(t *testing.T) {
	c := Chain(&upperHook{note: "first"}, &upperHook{note: "second"})
	req := &protocol.Request{ID: protocol.NumberID(1), Method: "m"}

	out, err := c.OnRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("chain failed: %v", err)
	}
	if len(out.Notifications) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(out.Notifications))
	}
	if out.Notifications[0].Method != "first" || out.Notifications[1].Method != "second" {
		t.Error("notifications out of order")
	}
	got, ok := out.Message.(*protocol.Request)
	if !ok {
		t.Fatalf("expected request, got %T", out.Message)
	}
	if string(got.Params) != `{"rewritten":true}` {
		t.Errorf("expected rewritten params, got %s", got.Params)
	}
}

func TestChainStopsOnError(t *testing.T) {
	c := Chain(failingHook{}, &upperHook{note: "never"})
	_, err := c.OnRequest(context.Background(), &protocol.Request{ID: protocol.NumberID(1), Method: "m"})
	if err == nil {
		t.Fatal("expected chain to surface hook error")
	}
}

func TestHookError(t *testing.T) {
	cause := errors.New("script blew up")
	err := &Error{Stage: StageResponse, Method: "textDocument/hover", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose the cause")
	}
	want := "response hook for textDocument/hover: script blew up"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}
