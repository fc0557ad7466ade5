package dbus

import "fmt"

// The three registration tables from §4.4. All three are touched only
// from the connection's run loop — see conn.go — so none of them need
// their own locking; the mailbox is what makes that true.

// HandlerFunc answers a method call. With a nil error, a non-nil
// returned *Message is sent as-is (build it with
// NewMethodReturn/NewErrorReply). A non-nil error takes precedence
// over any returned message and causes the multiplexer to synthesize
// a reply:
// an *Error is sent verbatim as the named error; any other error
// becomes the stock InvalidArgs reply, per §4.4's "argument-error
// convenience" (this is ErrInvalidArgs's role — return it, or wrap it,
// to take that path without hand-rolling the reply).
type HandlerFunc func(call *Message) (*Message, error)

type bindKey struct {
	path      ObjectPath
	iface     string // "" matches any interface
	member    string
}

type bindTable struct {
	entries map[bindKey]HandlerFunc
}

func newBindTable() *bindTable {
	return &bindTable{entries: make(map[bindKey]HandlerFunc)}
}

func (t *bindTable) add(path ObjectPath, iface, member string, h HandlerFunc) error {
	k := bindKey{path, iface, member}
	if _, exists := t.entries[k]; exists {
		return fmt.Errorf("dbus: a handler is already bound to path %q interface %q member %q", path, iface, member)
	}
	t.entries[k] = h
	return nil
}

func (t *bindTable) remove(path ObjectPath, iface, member string) bool {
	k := bindKey{path, iface, member}
	if _, exists := t.entries[k]; !exists {
		return false
	}
	delete(t.entries, k)
	return true
}

// lookup finds the handler for a method call, trying the most
// specific binding first and falling back to wildcards: an exact
// interface match, then one bound with iface == "" (matches any
// interface) at the same path — absent-interface calls and "any
// interface" binds use the same wildcard slot, per §4.4's "or, if the
// header is absent, for each bind in path order" — and only then,
// if path itself is non-empty, the same two interface combinations
// bound with path == "" (matches any path), the slot registerPeerBinds
// uses for org.freedesktop.DBus.Peer so it answers at every object.
func (t *bindTable) lookup(path ObjectPath, iface, member string) (HandlerFunc, bool) {
	if iface != "" {
		if h, ok := t.entries[bindKey{path, iface, member}]; ok {
			return h, true
		}
	}
	if h, ok := t.entries[bindKey{path, "", member}]; ok {
		return h, true
	}
	if path == "" {
		return nil, false
	}
	if iface != "" {
		if h, ok := t.entries[bindKey{"", iface, member}]; ok {
			return h, true
		}
	}
	h, ok := t.entries[bindKey{"", "", member}]
	return h, ok
}

// replyTable maps outgoing serials to their one-shot reply handlers.
type replyReg struct {
	onReturn func(*Message)
	onError  func(*RemoteError)
}

type replyTable struct {
	entries map[uint32]replyReg
}

func newReplyTable() *replyTable {
	return &replyTable{entries: make(map[uint32]replyReg)}
}

func (t *replyTable) add(serial uint32, reg replyReg) {
	t.entries[serial] = reg
}

// take removes and returns the registration for serial, reporting
// whether one was present. Removing an already-fired (or never
// registered) serial is a no-op, per §8's idempotence invariant.
func (t *replyTable) take(serial uint32) (replyReg, bool) {
	reg, ok := t.entries[serial]
	if ok {
		delete(t.entries, serial)
	}
	return reg, ok
}

func (t *replyTable) has(serial uint32) bool {
	_, ok := t.entries[serial]
	return ok
}

// drain empties the table, invoking every pending handler's error path
// with err — used at teardown (§7 kinds 1/5, §4.4's closed-state
// disposition).
func (t *replyTable) drain(err *RemoteError) {
	pending := t.entries
	t.entries = make(map[uint32]replyReg)
	for _, reg := range pending {
		if reg.onError != nil {
			reg.onError(err)
		}
	}
}

// matchEntry is one registered signal filter. removed is a tombstone
// flag rather than an immediate slice splice, so that a handler firing
// during matchTable.dispatch may remove itself or other entries
// without invalidating the in-progress iteration (§5's reentrancy
// requirement: "tolerates table mutation during iteration by using
// generational or deferred-removal semantics").
type matchEntry struct {
	id      uint64
	rule    *MatchRule
	handler func(*Message)
	removed bool
}

type matchTable struct {
	entries []*matchEntry
	nextID  uint64
	live    int // count of non-removed entries, for compaction heuristic
}

func newMatchTable() *matchTable {
	return &matchTable{}
}

func (t *matchTable) add(rule *MatchRule, handler func(*Message)) uint64 {
	t.nextID++
	t.entries = append(t.entries, &matchEntry{id: t.nextID, rule: rule.Clone(), handler: handler})
	t.live++
	t.compactIfSparse()
	return t.nextID
}

func (t *matchTable) remove(id uint64) bool {
	for _, e := range t.entries {
		if e.id == id && !e.removed {
			e.removed = true
			t.live--
			return true
		}
	}
	return false
}

// dispatch invokes the handler of every live entry whose rule matches
// msg, snapshotting the slice length first so a handler that adds a
// new match during this call does not also fire for msg.
func (t *matchTable) dispatch(msg *Message) {
	n := len(t.entries)
	for i := 0; i < n; i++ {
		e := t.entries[i]
		if e.removed {
			continue
		}
		if e.rule.Match(msg) {
			e.handler(msg)
		}
	}
	t.compactIfSparse()
}

func (t *matchTable) compactIfSparse() {
	if len(t.entries) < 64 || t.live*2 > len(t.entries) {
		return
	}
	fresh := make([]*matchEntry, 0, t.live)
	for _, e := range t.entries {
		if !e.removed {
			fresh = append(fresh, e)
		}
	}
	t.entries = fresh
}
