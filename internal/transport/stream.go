// Package transport frames JSON-RPC messages over byte streams using
// Content-Length headers, the LSP base protocol.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"syscall"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/alucardeht/lspipe/pkg/protocol"
)

// ErrClosed reports a write against a stream whose peer has gone away.
var ErrClosed = errors.New("stream closed")

// Stream is one side of the proxy: a framed, classified message channel.
// WriteMessage is safe for concurrent use; messages never interleave.
type Stream interface {
	ReadMessage() (protocol.Message, error)
	WriteMessage(protocol.Message) error
	Close() error
}

type stream struct {
	obj jsonrpc2.ObjectStream
}

// New wraps a connection in Content-Length framing.
func New(conn io.ReadWriteCloser) Stream {
	return &stream{obj: jsonrpc2.NewBufferedStream(conn, jsonrpc2.VSCodeObjectCodec{})}
}

// ReadMessage returns the next classified message. A closed stream surfaces
// as io.EOF; anything unparseable surfaces as protocol.ErrMalformed.
func (s *stream) ReadMessage() (protocol.Message, error) {
	var raw json.RawMessage
	if err := s.obj.ReadObject(&raw); err != nil {
		if isClosed(err) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
	}
	return protocol.Decode(raw)
}

func (s *stream) WriteMessage(m protocol.Message) error {
	if err := s.obj.WriteObject(m); err != nil {
		if isClosed(err) {
			return ErrClosed
		}
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (s *stream) Close() error {
	return s.obj.Close()
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, fs.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

// halves joins separate read and write ends into one connection. Close
// closes both ends; the first error wins.
type halves struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (s *halves) Read(p []byte) (int, error)  { return s.reader.Read(p) }
func (s *halves) Write(p []byte) (int, error) { return s.writer.Write(p) }

func (s *halves) Close() error {
	rerr := s.reader.Close()
	werr := s.writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// Join combines a read half and a write half into a single connection,
// adding no-op Close methods where the halves do not have one.
func Join(r io.Reader, w io.Writer) io.ReadWriteCloser {
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	wc, ok := w.(io.WriteCloser)
	if !ok {
		wc = nopWriteCloser{w}
	}
	return &halves{reader: rc, writer: wc}
}
