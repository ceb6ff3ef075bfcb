// Package proxy forwards JSON-RPC traffic between an editor and a spawned
// language server, routing requests and responses through method-scoped
// hooks. One Spawn call is one session: it owns the server process and
// returns when either side goes away.
package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alucardeht/lspipe/internal/logger"
	"github.com/alucardeht/lspipe/internal/transport"
	"github.com/alucardeht/lspipe/pkg/hook"
	"github.com/alucardeht/lspipe/pkg/protocol"
)

// Direction names the endpoint a message came from, or the endpoint whose
// stream ended a session.
type Direction string

const (
	DirClient Direction = "client"
	DirServer Direction = "server"
)

// Tap observes every message the proxy accepts, before hooks run. Taps see
// arrivals only; injected notifications and synthesized errors do not pass
// through them. OnMessage is called from both forwarding loops.
type Tap interface {
	OnMessage(dir Direction, msg protocol.Message)
}

type Options struct {
	// PendingTimeout evicts in-flight requests the server never answered.
	// Zero disables eviction.
	PendingTimeout time.Duration
	// ServerStderr receives the server's stderr; nil discards it.
	ServerStderr io.Writer
	Tap          Tap
	Logger       *slog.Logger
}

const DefaultPendingTimeout = 2 * time.Minute

type Proxy struct {
	hooks *hook.Registry
	opts  Options
	log   *slog.Logger
}

func New(hooks *hook.Registry, opts Options) *Proxy {
	if hooks == nil {
		hooks = hook.NewRegistry()
	}
	log := opts.Logger
	if log == nil {
		log = logger.ForComponent("proxy")
	}
	return &Proxy{hooks: hooks, opts: opts, log: log}
}

// Spawn starts the language server and forwards traffic between it and the
// client streams until one side closes or a stream turns out to be garbage.
// It returns nil on a clean shutdown from either side and an error when the
// server could not be started, a stream produced an unclassifiable message,
// or the server died with a failure status.
func (p *Proxy) Spawn(ctx context.Context, command string, args []string, clientR io.Reader, clientW io.Writer) error {
	session := uuid.NewString()[:8]
	log := p.log.With("session", session)

	proc, err := startServer(command, args, p.opts.ServerStderr)
	if err != nil {
		return err
	}
	log.Info("language server started", "command", command, "pid", proc.pid())

	serverStream := transport.New(transport.Join(proc.stdout, proc.stdin))
	clientStream := transport.New(transport.Join(clientR, clientW))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pending := newPendingTable()
	rt := &router{hooks: p.hooks, pending: pending, tap: p.opts.Tap, log: log}

	results := make(chan loopResult, 2)
	go func() { results <- rt.clientLoop(ctx, clientStream, serverStream) }()
	go func() { results <- rt.serverLoop(ctx, serverStream, clientStream) }()

	if p.opts.PendingTimeout > 0 {
		go p.sweep(ctx, pending, log)
	}

	// Closing the streams is what unblocks the loops; cancellation alone
	// cannot interrupt a blocked read.
	go func() {
		<-ctx.Done()
		clientStream.Close()
		serverStream.Close()
	}()

	first := <-results
	cancel()
	clientStream.Close()
	serverStream.Close()
	second := <-results
	if second.err != nil {
		log.Debug("second loop ended during shutdown", "source", second.src, "error", second.err)
	}

	stopErr := proc.Stop()

	if first.err != nil {
		log.Error("session failed", "source", first.src, "error", first.err)
		return fmt.Errorf("%s stream: %w", first.src, first.err)
	}
	if first.src == DirServer && stopErr != nil {
		log.Error("language server exited abnormally", "error", stopErr)
		return fmt.Errorf("language server exited: %w", stopErr)
	}
	if stopErr != nil {
		log.Warn("language server did not exit cleanly", "error", stopErr)
	}
	log.Info("session closed", "initiator", first.src, "unanswered", pending.size())
	return nil
}

func (p *Proxy) sweep(ctx context.Context, pending *pendingTable, log *slog.Logger) {
	interval := p.opts.PendingTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-p.opts.PendingTimeout)
			for _, e := range pending.evict(cutoff) {
				log.Warn("evicting unanswered request",
					"id", e.id.String(), "method", e.method, "age", e.age)
			}
		}
	}
}
