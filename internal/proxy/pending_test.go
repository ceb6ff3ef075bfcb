package proxy

import (
	"testing"
	"time"

	"github.com/alucardeht/lspipe/pkg/protocol"
)

func TestPendingRecordResolve(t *testing.T) {
	table := newPendingTable()

	if _, dup := table.record(protocol.NumberID(1), "textDocument/hover"); dup {
		t.Error("fresh id reported as duplicate")
	}
	if table.size() != 1 {
		t.Errorf("expected 1 entry, got %d", table.size())
	}

	method, ok := table.resolve(protocol.NumberID(1))
	if !ok || method != "textDocument/hover" {
		t.Errorf("expected textDocument/hover, got %q ok=%v", method, ok)
	}
	if _, ok := table.resolve(protocol.NumberID(1)); ok {
		t.Error("resolve must consume the entry")
	}
}

func TestPendingStringAndNumberIDsDoNotCollide(t *testing.T) {
	table := newPendingTable()
	table.record(protocol.NumberID(1), "numeric")
	table.record(protocol.StringID("1"), "stringy")

	if table.size() != 2 {
		t.Fatalf("expected 2 entries, got %d", table.size())
	}
	if m, _ := table.resolve(protocol.StringID("1")); m != "stringy" {
		t.Errorf("expected stringy, got %s", m)
	}
}

func TestPendingDuplicateKeepsNewer(t *testing.T) {
	table := newPendingTable()
	table.record(protocol.NumberID(2), "m/old")

	prev, dup := table.record(protocol.NumberID(2), "m/new")
	if !dup || prev != "m/old" {
		t.Errorf("expected duplicate of m/old, got prev=%q dup=%v", prev, dup)
	}
	if m, _ := table.resolve(protocol.NumberID(2)); m != "m/new" {
		t.Errorf("expected newer method to win, got %s", m)
	}
}

func TestPendingEvict(t *testing.T) {
	table := newPendingTable()
	table.record(protocol.NumberID(1), "stale")
	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	table.record(protocol.NumberID(2), "fresh")

	dropped := table.evict(cutoff)
	if len(dropped) != 1 {
		t.Fatalf("expected 1 evicted entry, got %d", len(dropped))
	}
	if dropped[0].method != "stale" || dropped[0].id != protocol.NumberID(1) {
		t.Errorf("evicted wrong entry: %+v", dropped[0])
	}
	if _, ok := table.resolve(protocol.NumberID(1)); ok {
		t.Error("evicted entry still resolvable")
	}
	if _, ok := table.resolve(protocol.NumberID(2)); !ok {
		t.Error("fresh entry was evicted")
	}
}
