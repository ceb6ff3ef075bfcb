package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/alucardeht/lspipe/pkg/protocol"
)

func frame(body string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
}

func TestReadMessage(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`
	s := New(Join(strings.NewReader(frame(body)), io.Discard))

	msg, err := s.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	req, ok := msg.(*protocol.Request)
	if !ok {
		t.Fatalf("expected request, got %T", msg)
	}
	if req.Method != "initialize" {
		t.Errorf("expected method initialize, got %s", req.Method)
	}
}

func TestReadMessageSequence(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(frame(`{"jsonrpc":"2.0","method":"initialized"}`))
	buf.WriteString(frame(`{"jsonrpc":"2.0","id":2,"result":null}`))
	s := New(Join(&buf, io.Discard))

	first, err := s.ReadMessage()
	if err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	if first.Kind() != protocol.KindNotification {
		t.Errorf("expected notification, got %s", first.Kind())
	}
	second, err := s.ReadMessage()
	if err != nil {
		t.Fatalf("second read failed: %v", err)
	}
	if second.Kind() != protocol.KindResponse {
		t.Errorf("expected response, got %s", second.Kind())
	}
	if _, err := s.ReadMessage(); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestReadMessageGarbageHeader(t *testing.T) {
	s := New(Join(strings.NewReader("not-a-header\r\n\r\n{}"), io.Discard))
	_, err := s.ReadMessage()
	if !errors.Is(err, protocol.ErrMalformed) {
		t.Errorf("expected ErrMalformed for framing garbage, got %v", err)
	}
}

func TestReadMessageInvalidBody(t *testing.T) {
	s := New(Join(strings.NewReader(frame(`{"id":1}`)), io.Discard))
	_, err := s.ReadMessage()
	if !errors.Is(err, protocol.ErrMalformed) {
		t.Errorf("expected ErrMalformed for unclassifiable body, got %v", err)
	}
}

func TestWriteMessageFraming(t *testing.T) {
	var buf bytes.Buffer
	s := New(Join(strings.NewReader(""), &buf))

	err := s.WriteMessage(&protocol.Notification{Method: "exit"})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	body := `{"jsonrpc":"2.0","method":"exit"}`
	want := frame(body)
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := New(Join(strings.NewReader(""), &buf))
	if err := w.WriteMessage(&protocol.Request{ID: protocol.StringID("r-1"), Method: "textDocument/hover"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	r := New(Join(&buf, io.Discard))
	msg, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	req := msg.(*protocol.Request)
	if req.ID != protocol.StringID("r-1") {
		t.Errorf("expected id r-1, got %s", req.ID)
	}
}

func TestReadAfterClose(t *testing.T) {
	pr, pw := io.Pipe()
	s := New(Join(pr, io.Discard))
	pw.Close()

	if _, err := s.ReadMessage(); err != io.EOF {
		t.Errorf("expected io.EOF after close, got %v", err)
	}
}

func TestWriteToClosedPipe(t *testing.T) {
	pr, pw := io.Pipe()
	s := New(Join(strings.NewReader(""), pw))
	pr.Close()

	err := s.WriteMessage(&protocol.Notification{Method: "exit"})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
