package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/alucardeht/lspipe/internal/transport"
	"github.com/alucardeht/lspipe/pkg/hook"
	"github.com/alucardeht/lspipe/pkg/protocol"
)

// loopResult reports why a forwarding loop stopped. src names the endpoint
// whose stream ended; err is nil when the stream simply closed.
type loopResult struct {
	src Direction
	err error
}

type router struct {
	hooks   *hook.Registry
	pending *pendingTable
	tap     Tap
	log     *slog.Logger
}

// clientLoop moves messages from the client to the server. Requests with a
// registered hook are intercepted; everything else is forwarded as is.
// Responses on this stream answer server-initiated requests and pass
// through untouched.
func (rt *router) clientLoop(ctx context.Context, client, server transport.Stream) loopResult {
	for {
		msg, err := client.ReadMessage()
		if err != nil {
			if err == io.EOF {
				return loopResult{src: DirClient}
			}
			return loopResult{src: DirClient, err: err}
		}
		rt.observe(DirClient, msg)

		switch m := msg.(type) {
		case *protocol.Request:
			if res := rt.clientRequest(ctx, m, client, server); res != nil {
				return *res
			}
		default:
			if res := rt.forward(server, DirServer, msg); res != nil {
				return *res
			}
		}
	}
}

// serverLoop moves messages from the server to the client. Responses whose
// request carried a hook are intercepted; server-initiated requests and
// notifications pass through untouched.
func (rt *router) serverLoop(ctx context.Context, server, client transport.Stream) loopResult {
	for {
		msg, err := server.ReadMessage()
		if err != nil {
			if err == io.EOF {
				return loopResult{src: DirServer}
			}
			return loopResult{src: DirServer, err: err}
		}
		rt.observe(DirServer, msg)

		switch m := msg.(type) {
		case *protocol.Response:
			if res := rt.serverResponse(ctx, m, client); res != nil {
				return *res
			}
		default:
			if res := rt.forward(client, DirClient, msg); res != nil {
				return *res
			}
		}
	}
}

func (rt *router) clientRequest(ctx context.Context, req *protocol.Request, client, server transport.Stream) *loopResult {
	fwd := req
	var notes []*protocol.Notification

	if h, ok := rt.hooks.Lookup(req.Method); ok {
		out, err := h.OnRequest(ctx, req)
		if err == nil {
			fwd, err = requestOutput(out, req.ID)
		}
		if err != nil {
			// The request is consumed here: the server never sees it and
			// nothing is recorded, so the client must get the answer.
			herr := &hook.Error{Stage: hook.StageRequest, Method: req.Method, Err: err}
			rt.log.Error("request hook failed, answering client with internal error",
				"method", req.Method, "id", req.ID.String(), "error", herr)
			resp := protocol.NewErrorResponse(req.ID, protocol.CodeInternalError,
				fmt.Sprintf("lspipe: request hook for %s failed", req.Method))
			return rt.forward(client, DirClient, resp)
		}
		notes = out.Notifications
	}

	for _, n := range notes {
		if res := rt.forward(client, DirClient, n); res != nil {
			return res
		}
	}

	if prev, dup := rt.pending.record(fwd.ID, fwd.Method); dup {
		rt.log.Warn("request id already in flight, tracking newer request",
			"id", fwd.ID.String(), "previous_method", prev, "method", fwd.Method)
	}
	return rt.forward(server, DirServer, fwd)
}

func (rt *router) serverResponse(ctx context.Context, resp *protocol.Response, client transport.Stream) *loopResult {
	method, matched := rt.pending.resolve(resp.ID)
	if !matched {
		rt.log.Warn("response matches no in-flight request, forwarding unmodified",
			"id", resp.ID.String())
		return rt.forward(client, DirClient, resp)
	}

	h, ok := rt.hooks.Lookup(method)
	if !ok {
		return rt.forward(client, DirClient, resp)
	}

	out, err := h.OnResponse(ctx, resp)
	var fwd *protocol.Response
	if err == nil {
		fwd, err = responseOutput(out, resp.ID)
	}
	if err != nil {
		// Fail open: the client still gets the server's answer.
		herr := &hook.Error{Stage: hook.StageResponse, Method: method, Err: err}
		rt.log.Error("response hook failed, forwarding original response",
			"method", method, "id", resp.ID.String(), "error", herr)
		return rt.forward(client, DirClient, resp)
	}

	if res := rt.forward(client, DirClient, fwd); res != nil {
		return res
	}
	for _, n := range out.Notifications {
		if res := rt.forward(client, DirClient, n); res != nil {
			return res
		}
	}
	return nil
}

// forward writes one message toward dst. A closed destination ends the
// session cleanly; any other write failure is fatal.
func (rt *router) forward(dst transport.Stream, to Direction, msg protocol.Message) *loopResult {
	err := dst.WriteMessage(msg)
	if err == nil {
		return nil
	}
	if errors.Is(err, transport.ErrClosed) {
		return &loopResult{src: to}
	}
	return &loopResult{src: to, err: err}
}

func (rt *router) observe(dir Direction, msg protocol.Message) {
	if rt.tap != nil {
		rt.tap.OnMessage(dir, msg)
	}
}

func requestOutput(out *hook.Output, want protocol.ID) (*protocol.Request, error) {
	if out == nil || out.Message == nil {
		return nil, errors.New("hook returned no message")
	}
	req, ok := out.Message.(*protocol.Request)
	if !ok {
		return nil, fmt.Errorf("hook changed message kind to %s", out.Message.Kind())
	}
	if req.ID != want {
		return nil, fmt.Errorf("hook changed request id from %s to %s", want, req.ID)
	}
	return req, nil
}

func responseOutput(out *hook.Output, want protocol.ID) (*protocol.Response, error) {
	if out == nil || out.Message == nil {
		return nil, errors.New("hook returned no message")
	}
	resp, ok := out.Message.(*protocol.Response)
	if !ok {
		return nil, fmt.Errorf("hook changed message kind to %s", out.Message.Kind())
	}
	if resp.ID != want {
		return nil, fmt.Errorf("hook changed response id from %s to %s", want, resp.ID)
	}
	return resp, nil
}
