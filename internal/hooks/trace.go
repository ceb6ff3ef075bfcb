// Package hooks ships the hooks bundled with the lspipe binary: tracing,
// rule-based rewriting and Lua scripting.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alucardeht/lspipe/internal/logger"
	"github.com/alucardeht/lspipe/pkg/hook"
	"github.com/alucardeht/lspipe/pkg/protocol"
)

// Trace logs intercepted traffic without changing it. With announce set it
// also pushes a window/logMessage notification to the client for every
// intercepted request and response, which makes the proxy visible inside
// the editor's log panel.
type Trace struct {
	log      *slog.Logger
	announce bool
}

func NewTrace(announce bool) *Trace {
	return &Trace{
		log:      logger.ForComponent("trace"),
		announce: announce,
	}
}

func (t *Trace) OnRequest(_ context.Context, req *protocol.Request) (*hook.Output, error) {
	t.log.Info("request",
		"method", req.Method, "id", req.ID.String(), "params_bytes", len(req.Params))

	out := &hook.Output{Message: req}
	if t.announce {
		out.Notifications = append(out.Notifications,
			logMessage(fmt.Sprintf("lspipe: intercepted %s (id %s)", req.Method, req.ID)))
	}
	return out, nil
}

func (t *Trace) OnResponse(_ context.Context, resp *protocol.Response) (*hook.Output, error) {
	if resp.Error != nil {
		t.log.Info("response",
			"id", resp.ID.String(), "error_code", resp.Error.Code, "error", resp.Error.Message)
	} else {
		t.log.Info("response",
			"id", resp.ID.String(), "result_bytes", len(resp.Result))
	}

	out := &hook.Output{Message: resp}
	if t.announce {
		out.Notifications = append(out.Notifications,
			logMessage(fmt.Sprintf("lspipe: intercepted response (id %s)", resp.ID)))
	}
	return out, nil
}

func logMessage(text string) *protocol.Notification {
	params, _ := json.Marshal(map[string]any{
		"type":    protocol.MessageTypeLog,
		"message": text,
	})
	return &protocol.Notification{Method: protocol.MethodLogMessage, Params: params}
}
