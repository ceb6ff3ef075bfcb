// Package hook defines the interception points of the proxy. A hook is bound
// to a method name and sees every request with that method on its way to the
// server, and every response to such a request on its way back to the client.
// Notifications pass through the proxy untouched.
package hook

import (
	"context"
	"fmt"

	"github.com/alucardeht/lspipe/pkg/protocol"
)

// Output is what a hook hands back to the proxy. Message replaces the
// intercepted message and must keep its kind and id. Notifications are
// injected toward the client, in order, alongside the message.
type Output struct {
	Message       protocol.Message
	Notifications []*protocol.Notification
}

type Hook interface {
	// OnRequest may rewrite a client request before it reaches the server.
	OnRequest(ctx context.Context, req *protocol.Request) (*Output, error)
	// OnResponse may rewrite a server response before it reaches the client.
	OnResponse(ctx context.Context, resp *protocol.Response) (*Output, error)
}

// Base passes messages through unchanged. Embed it to implement only one
// direction of a hook.
type Base struct{}

func (Base) OnRequest(_ context.Context, req *protocol.Request) (*Output, error) {
	return &Output{Message: req}, nil
}

func (Base) OnResponse(_ context.Context, resp *protocol.Response) (*Output, error) {
	return &Output{Message: resp}, nil
}

type Stage string

const (
	StageRequest  Stage = "request"
	StageResponse Stage = "response"
)

// Error reports a hook that returned an error or an invalid output. The
// proxy never lets it escape a session: request failures become synthesized
// error responses, response failures fall back to the original message.
type Error struct {
	Stage  Stage
	Method string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s hook for %s: %v", e.Stage, e.Method, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type chain struct {
	hooks []Hook
}

// Chain composes hooks into one. Each hook receives the message produced by
// the previous one; injected notifications accumulate across the chain.
func Chain(hooks ...Hook) Hook {
	return &chain{hooks: hooks}
}

func (c *chain) OnRequest(ctx context.Context, req *protocol.Request) (*Output, error) {
	out := &Output{Message: req}
	for _, h := range c.hooks {
		cur, ok := out.Message.(*protocol.Request)
		if !ok {
			return nil, fmt.Errorf("chained hook produced %s, expected request", out.Message.Kind())
		}
		next, err := h.OnRequest(ctx, cur)
		if err != nil {
			return nil, err
		}
		if next == nil || next.Message == nil {
			return nil, fmt.Errorf("chained hook returned no message")
		}
		out.Message = next.Message
		out.Notifications = append(out.Notifications, next.Notifications...)
	}
	return out, nil
}

func (c *chain) OnResponse(ctx context.Context, resp *protocol.Response) (*Output, error) {
	out := &Output{Message: resp}
	for _, h := range c.hooks {
		cur, ok := out.Message.(*protocol.Response)
		if !ok {
			return nil, fmt.Errorf("chained hook produced %s, expected response", out.Message.Kind())
		}
		next, err := h.OnResponse(ctx, cur)
		if err != nil {
			return nil, err
		}
		if next == nil || next.Message == nil {
			return nil, fmt.Errorf("chained hook returned no message")
		}
		out.Message = next.Message
		out.Notifications = append(out.Notifications, next.Notifications...)
	}
	return out, nil
}
