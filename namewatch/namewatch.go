// Package namewatch tracks well-known bus name ownership:
// NameOwnerChanged-driven watches on another name (WatchName) and
// acquisition of a name for this connection (RequestName), plus an
// LRU-cached GetNameOwner lookup.
//
// Grounded on the teacher's names.go (nameInfo/NameWatch/BusName), with
// its package-global signalWatchSet replaced by dbuscore's
// per-connection MatchRule registration and its ad hoc "one watch
// struct per outstanding request" bookkeeping replaced by a small
// owner-tracking map guarded by a single mutex.
package namewatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/dbuscore/dbuscore"
	"github.com/dbuscore/dbuscore/proxy"
	lru "github.com/hashicorp/golang-lru"
)

const (
	busDaemonName = dbus.BusDaemonName
	busDaemonPath = dbus.BusDaemonPath
	busDaemonIface = dbus.BusDaemonInterface
)

// NameFlags are the RequestName bits, per the D-Bus specification.
type NameFlags uint32

const (
	FlagAllowReplacement NameFlags = 1 << iota
	FlagReplaceExisting
	FlagDoNotQueue
)

// RequestName reply codes, per the D-Bus specification.
const (
	ReplyPrimaryOwner uint32 = 1
	ReplyInQueue      uint32 = 2
	ReplyExists       uint32 = 3
	ReplyAlreadyOwner uint32 = 4
)

var (
	ErrNameLost         = fmt.Errorf("dbus: namewatch: name ownership lost")
	ErrNameInQueue      = fmt.Errorf("dbus: namewatch: queued for name ownership")
	ErrNameExists       = fmt.Errorf("dbus: namewatch: name already owned by another connection")
	ErrNameAlreadyOwned = fmt.Errorf("dbus: namewatch: name already owned by this connection")
)

// Watcher tracks well-known name ownership over one Conn, caching
// GetNameOwner lookups with an LRU bounded to cacheSize entries —
// SPEC_FULL.md's other named use of github.com/hashicorp/golang-lru.
type Watcher struct {
	conn  *dbus.Conn
	bus   *proxy.Interface
	cache *lru.Cache
}

// NewWatcher builds a Watcher over conn with an owner cache of the
// given size.
func NewWatcher(conn *dbus.Conn, cacheSize int) (*Watcher, error) {
	c, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("dbus: namewatch: %w", err)
	}
	return &Watcher{
		conn:  conn,
		bus:   proxy.NewObject(conn, busDaemonName, busDaemonPath).Interface(busDaemonIface),
		cache: c,
	}, nil
}

// GetNameOwner resolves busName's current unique-name owner,
// consulting the cache first. A cache hit can be stale if ownership
// changed since it was populated; callers that need freshness should
// use WatchName instead.
func (w *Watcher) GetNameOwner(timeout time.Duration, busName string) (string, error) {
	if v, ok := w.cache.Get(busName); ok {
		return v.(string), nil
	}
	var owner string
	if err := w.bus.Call(timeout, "GetNameOwner", []interface{}{busName}, &owner); err != nil {
		return "", err
	}
	w.cache.Add(busName, owner)
	return owner, nil
}

// NameWatch delivers the current and subsequent owners of busName: an
// empty string means unowned.
type NameWatch struct {
	C chan string

	watcher *Watcher
	watch   *proxy.Watch
	once    sync.Once
}

// WatchName starts tracking busName's ownership, seeding the channel
// with the name's current owner (possibly "") before delivering
// subsequent NameOwnerChanged events.
func (w *Watcher) WatchName(timeout time.Duration, busName string) (*NameWatch, error) {
	nw := &NameWatch{C: make(chan string, 4), watcher: w}
	watch, err := w.bus.WatchSignalArgs("NameOwnerChanged", map[int]string{0: busName}, func(msg *dbus.Message) {
		var name, oldOwner, newOwner string
		if err := msg.Args(&name, &oldOwner, &newOwner); err != nil {
			return
		}
		w.cache.Add(busName, newOwner)
		select {
		case nw.C <- newOwner:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	nw.watch = watch

	owner, err := w.GetNameOwner(timeout, busName)
	if err != nil {
		owner = ""
	}
	nw.C <- owner
	return nw, nil
}

// Cancel stops delivering ownership changes.
func (nw *NameWatch) Cancel() {
	nw.once.Do(func() {
		nw.watch.Cancel()
		close(nw.C)
	})
}

// BusName is a handle to a well-known name this connection is
// requesting or holds, delivering at most one nil-or-error value per
// ownership transition over C — nil means acquired; ErrNameLost,
// ErrNameInQueue and ErrNameExists mean lost, queued or refused;
// ErrNameAlreadyOwned means this connection already held the name
// when it asked.
type BusName struct {
	Name  string
	Flags NameFlags
	C     chan error

	watcher      *Watcher
	lostWatch    *proxy.Watch
	acquireWatch *proxy.Watch

	mu        sync.Mutex
	cancelled bool
}

// RequestName asks the bus daemon for ownership of busName.
func (w *Watcher) RequestName(timeout time.Duration, busName string, flags NameFlags) (*BusName, error) {
	bn := &BusName{Name: busName, Flags: flags, C: make(chan error, 1), watcher: w}

	lost, err := w.bus.WatchSignalArgs("NameLost", map[int]string{0: busName}, func(msg *dbus.Message) {
		bn.mu.Lock()
		defer bn.mu.Unlock()
		if !bn.cancelled {
			select {
			case bn.C <- ErrNameLost:
			default:
			}
		}
	})
	if err != nil {
		return nil, err
	}
	bn.lostWatch = lost

	acquired, err := w.bus.WatchSignalArgs("NameAcquired", map[int]string{0: busName}, func(msg *dbus.Message) {
		select {
		case bn.C <- nil:
		default:
		}
	})
	if err != nil {
		lost.Cancel()
		return nil, err
	}
	bn.acquireWatch = acquired

	var result uint32
	if err := w.bus.Call(timeout, "RequestName", []interface{}{busName, uint32(flags)}, &result); err != nil {
		lost.Cancel()
		acquired.Cancel()
		return nil, err
	}
	switch result {
	case ReplyInQueue:
		bn.C <- ErrNameInQueue
	case ReplyExists:
		bn.C <- ErrNameExists
		lost.Cancel()
		acquired.Cancel()
	case ReplyAlreadyOwner:
		bn.C <- ErrNameAlreadyOwned
	}
	return bn, nil
}

// Release gives up a requested or held name.
func (bn *BusName) Release(timeout time.Duration) error {
	bn.mu.Lock()
	if bn.cancelled {
		bn.mu.Unlock()
		return nil
	}
	bn.cancelled = true
	bn.mu.Unlock()

	bn.lostWatch.Cancel()
	bn.acquireWatch.Cancel()
	var result uint32
	return bn.watcher.bus.Call(timeout, "ReleaseName", []interface{}{bn.Name}, &result)
}
