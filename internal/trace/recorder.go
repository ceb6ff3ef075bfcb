// Package trace persists proxied traffic to sqlite so a session can be
// inspected after the editor is gone.
package trace

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alucardeht/lspipe/internal/logger"
	"github.com/alucardeht/lspipe/internal/proxy"
	"github.com/alucardeht/lspipe/pkg/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	command    TEXT NOT NULL,
	started_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	origin     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	method     TEXT NOT NULL DEFAULT '',
	rpc_id     TEXT NOT NULL DEFAULT '',
	body       BLOB NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
`

// Recorder is a proxy tap that writes every observed message to a sqlite
// database. Method patterns narrow what gets recorded; responses carry no
// method and are always kept so request bodies stay matchable by id.
type Recorder struct {
	db       *sql.DB
	log      *slog.Logger
	patterns []string

	mu        sync.Mutex
	sessionID string
}

func Open(path string, patterns []string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	return &Recorder{
		db:       db,
		log:      logger.ForComponent("recorder"),
		patterns: patterns,
	}, nil
}

func (r *Recorder) Close() error {
	return r.db.Close()
}

// BeginSession opens a new recording session and returns its id. Messages
// observed before BeginSession are dropped.
func (r *Recorder) BeginSession(command string, args []string) (string, error) {
	id := uuid.NewString()
	cmdline := command
	if len(args) > 0 {
		cmdline += " " + strings.Join(args, " ")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(
		`INSERT INTO sessions (id, command, started_at) VALUES (?, ?, ?)`,
		id, cmdline, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("begin session: %w", err)
	}
	r.sessionID = id
	return id, nil
}

// OnMessage implements proxy.Tap. Recording failures are logged and
// swallowed; a broken trace database must not take the session down.
func (r *Recorder) OnMessage(dir proxy.Direction, msg protocol.Message) {
	method := protocol.MethodOf(msg)
	if method != "" && !r.matches(method) {
		return
	}

	body, err := protocol.Encode(msg)
	if err != nil {
		r.log.Warn("failed to encode message for recording", "error", err)
		return
	}
	var rpcID string
	if id, ok := protocol.IDOf(msg); ok {
		rpcID = id.String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID == "" {
		return
	}
	_, err = r.db.Exec(
		`INSERT INTO messages (session_id, origin, kind, method, rpc_id, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.sessionID, string(dir), msg.Kind().String(), method, rpcID, body, time.Now().UTC(),
	)
	if err != nil {
		r.log.Warn("failed to record message", "error", err)
	}
}

func (r *Recorder) matches(method string) bool {
	if len(r.patterns) == 0 {
		return true
	}
	for _, pat := range r.patterns {
		if ok, err := doublestar.Match(pat, method); err == nil && ok {
			return true
		}
	}
	return false
}

type SessionInfo struct {
	ID        string
	Command   string
	StartedAt time.Time
}

type RecordedMessage struct {
	Seq       int64
	Origin    string
	Kind      string
	Method    string
	RPCID     string
	Body      json.RawMessage
	CreatedAt time.Time
}

func (r *Recorder) Sessions() ([]SessionInfo, error) {
	rows, err := r.db.Query(`SELECT id, command, started_at FROM sessions ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var s SessionInfo
		if err := rows.Scan(&s.ID, &s.Command, &s.StartedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *Recorder) Messages(sessionID string) ([]RecordedMessage, error) {
	rows, err := r.db.Query(
		`SELECT seq, origin, kind, method, rpc_id, body, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []RecordedMessage
	for rows.Next() {
		var m RecordedMessage
		if err := rows.Scan(&m.Seq, &m.Origin, &m.Kind, &m.Method, &m.RPCID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
