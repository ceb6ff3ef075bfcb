package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"

	"github.com/alucardeht/lspipe/internal/logger"
	"github.com/alucardeht/lspipe/pkg/hook"
	"github.com/alucardeht/lspipe/pkg/protocol"
)

// RewriteRule edits the params of a request or the result of a response.
// Set values are raw JSON. When names a gjson path that must exist in the
// document for the rule to fire.
type RewriteRule struct {
	Method string            `yaml:"method"`
	On     string            `yaml:"on,omitempty"` // request, response or both
	When   string            `yaml:"when,omitempty"`
	Set    map[string]string `yaml:"set,omitempty"`
	Delete []string          `yaml:"delete,omitempty"`
}

func (r *RewriteRule) appliesTo(stage hook.Stage) bool {
	switch r.On {
	case "", "both":
		return true
	case "request":
		return stage == hook.StageRequest
	case "response":
		return stage == hook.StageResponse
	}
	return false
}

// Rewrite applies declarative rules from a YAML file. The rule set can be
// reloaded while a session is running; a broken edit keeps the previous
// rules in place. Hook registration is fixed at startup, so a reload that
// names new methods only takes effect for methods already registered.
type Rewrite struct {
	log     *slog.Logger
	path    string
	watcher *fsnotify.Watcher

	mu    sync.RWMutex
	rules []RewriteRule
}

func NewRewrite(path string, watch bool) (*Rewrite, error) {
	rules, err := loadRules(path)
	if err != nil {
		return nil, err
	}

	r := &Rewrite{
		log:   logger.ForComponent("rewrite"),
		path:  path,
		rules: rules,
	}

	if watch {
		// Watch the directory, not the file: editors replace files on
		// save and the watch would die with the old inode.
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("watch rules: %w", err)
		}
		if err := w.Add(filepath.Dir(path)); err != nil {
			w.Close()
			return nil, fmt.Errorf("watch rules: %w", err)
		}
		r.watcher = w
		go r.handleEvents()
	}
	return r, nil
}

func (r *Rewrite) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// Methods returns the distinct methods named by the current rules, in
// sorted order. The caller registers the hook for each of them.
func (r *Rewrite) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var methods []string
	for _, rule := range r.rules {
		if !seen[rule.Method] {
			seen[rule.Method] = true
			methods = append(methods, rule.Method)
		}
	}
	sort.Strings(methods)
	return methods
}

// Bind returns the hook for one method. Responses do not carry a method on
// the wire, so each registered method gets its own binding.
func (r *Rewrite) Bind(method string) hook.Hook {
	return &boundRewrite{rw: r, method: method}
}

type boundRewrite struct {
	rw     *Rewrite
	method string
}

func (b *boundRewrite) OnRequest(_ context.Context, req *protocol.Request) (*hook.Output, error) {
	doc, changed, err := b.rw.apply(hook.StageRequest, b.method, req.Params)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &hook.Output{Message: req}, nil
	}
	return &hook.Output{Message: &protocol.Request{ID: req.ID, Method: req.Method, Params: doc}}, nil
}

func (b *boundRewrite) OnResponse(_ context.Context, resp *protocol.Response) (*hook.Output, error) {
	if resp.Error != nil {
		return &hook.Output{Message: resp}, nil
	}
	doc, changed, err := b.rw.apply(hook.StageResponse, b.method, resp.Result)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &hook.Output{Message: resp}, nil
	}
	return &hook.Output{Message: &protocol.Response{ID: resp.ID, Result: doc}}, nil
}

func (r *Rewrite) apply(stage hook.Stage, method string, doc json.RawMessage) (json.RawMessage, bool, error) {
	r.mu.RLock()
	rules := r.rules
	r.mu.RUnlock()

	out := []byte(doc)
	changed := false
	for _, rule := range rules {
		if rule.Method != method {
			continue
		}
		if !rule.appliesTo(stage) {
			continue
		}
		if rule.When != "" && !gjson.GetBytes(out, rule.When).Exists() {
			continue
		}

		paths := make([]string, 0, len(rule.Set))
		for p := range rule.Set {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			next, err := sjson.SetRawBytes(out, p, []byte(rule.Set[p]))
			if err != nil {
				return nil, false, fmt.Errorf("set %s: %w", p, err)
			}
			out = next
			changed = true
		}
		for _, p := range rule.Delete {
			next, err := sjson.DeleteBytes(out, p)
			if err != nil {
				return nil, false, fmt.Errorf("delete %s: %w", p, err)
			}
			out = next
			changed = true
		}
	}
	return out, changed, nil
}

func (r *Rewrite) handleEvents() {
	base := filepath.Base(r.path)
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			rules, err := loadRules(r.path)
			if err != nil {
				r.log.Warn("rules reload failed, keeping previous rules", "error", err)
				continue
			}
			r.mu.Lock()
			r.rules = rules
			r.mu.Unlock()
			r.log.Info("rules reloaded", "path", r.path, "rules", len(rules))

		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func loadRules(path string) ([]RewriteRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var doc struct {
		Rules []RewriteRule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i, rule := range doc.Rules {
		if rule.Method == "" {
			return nil, fmt.Errorf("rule %d: method is required", i)
		}
		switch rule.On {
		case "", "both", "request", "response":
		default:
			return nil, fmt.Errorf("rule %d: on must be request, response or both, got %q", i, rule.On)
		}
		for p, v := range rule.Set {
			if !json.Valid([]byte(v)) {
				return nil, fmt.Errorf("rule %d: set %s: value is not valid JSON: %s", i, p, v)
			}
		}
	}
	return doc.Rules, nil
}
