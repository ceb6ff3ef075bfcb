package proxy

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"testing"

	"github.com/alucardeht/lspipe/internal/transport"
	"github.com/alucardeht/lspipe/pkg/protocol"
)

func TestSpawnUnknownCommand(t *testing.T) {
	p := New(nil, Options{})
	err := p.Spawn(context.Background(), "lspipe-no-such-binary", nil, strings.NewReader(""), io.Discard)
	if !errors.Is(err, ErrServerNotInstalled) {
		t.Errorf("expected ErrServerNotInstalled, got %v", err)
	}
}

func requireUnixTool(t *testing.T, name string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test needs a unix shell environment")
	}
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

// cat echoes frames verbatim, so every request the client sends comes back
// as a server-initiated request and must be forwarded to the client.
func TestSpawnEchoSession(t *testing.T) {
	requireUnixTool(t, "cat")

	toProxyR, toProxyW := io.Pipe()
	fromProxyR, fromProxyW := io.Pipe()
	editor := transport.New(transport.Join(fromProxyR, toProxyW))

	p := New(nil, Options{})
	done := make(chan error, 1)
	go func() {
		done <- p.Spawn(context.Background(), "cat", nil, toProxyR, fromProxyW)
	}()

	if err := editor.WriteMessage(&protocol.Request{ID: protocol.NumberID(1), Method: "textDocument/hover"}); err != nil {
		t.Fatalf("client write failed: %v", err)
	}
	msg, err := editor.ReadMessage()
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	req, ok := msg.(*protocol.Request)
	if !ok || req.Method != "textDocument/hover" {
		t.Fatalf("expected echoed hover request, got %T %v", msg, msg)
	}

	toProxyW.Close()
	if err := <-done; err != nil {
		t.Errorf("expected clean session end, got %v", err)
	}
}

func TestSpawnMalformedServerOutput(t *testing.T) {
	requireUnixTool(t, "sh")

	toProxyR, toProxyW := io.Pipe()
	defer toProxyW.Close()

	p := New(nil, Options{})
	script := `printf 'Content-Length: 5\r\n\r\n{bad}'; sleep 1`
	err := p.Spawn(context.Background(), "sh", []string{"-c", script}, toProxyR, io.Discard)
	if !errors.Is(err, protocol.ErrMalformed) {
		t.Errorf("expected malformed server output to fail the session, got %v", err)
	}
}

func TestSpawnServerCrash(t *testing.T) {
	requireUnixTool(t, "sh")

	toProxyR, toProxyW := io.Pipe()
	defer toProxyW.Close()

	p := New(nil, Options{})
	err := p.Spawn(context.Background(), "sh", []string{"-c", "exit 3"}, toProxyR, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "exited") {
		t.Errorf("expected server exit to surface as an error, got %v", err)
	}
}

func TestSpawnContextCancelEndsSession(t *testing.T) {
	requireUnixTool(t, "cat")

	toProxyR, toProxyW := io.Pipe()
	defer toProxyW.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := New(nil, Options{})
	done := make(chan error, 1)
	go func() {
		done <- p.Spawn(ctx, "cat", nil, toProxyR, io.Discard)
	}()

	cancel()
	if err := <-done; err != nil {
		t.Errorf("expected cancellation to end the session cleanly, got %v", err)
	}
}
