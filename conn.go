package dbus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbuscore/dbuscore/auth"
)

// connState is the connection lifecycle state machine of §4.4: a
// freshly dialed connection authenticates, sends Hello, and only then
// accepts application traffic.
type connState int32

const (
	stateNew connState = iota
	stateAuthenticating
	stateHelloSent
	stateReady
	stateClosed
)

// Conn is a multiplexed D-Bus connection: a single logical thread of
// control (the run loop below) owning the three registration tables,
// the outgoing serial counter, and the transport, plus a reader
// goroutine that only ever decodes bytes and hands decoded messages
// back to that thread. Every other goroutine reaches the connection
// through ops, never by touching these fields directly — this is what
// lets binds/replies/matches skip their own locking, matching the
// teacher's single net.Conn-oriented Connection but replacing its
// mutex-guarded maps (§9 redesign note: "an explicit single-threaded
// owner reached through a mailbox, not a pile of mutexes").
type Conn struct {
	transport Transport
	cfg       Config
	log       *Logger

	ops    chan func()
	stopCh chan struct{}
	stopped sync.Once

	state      int32 // connState, read with atomic outside the run loop
	UniqueName string

	binds   *bindTable
	replies *replyTable
	matches *matchTable
	serial  uint32

	closeErr error
	closeMu  sync.Mutex
}

// Dial authenticates stream with mechanisms (tried in order) and, on
// success, starts the connection's run loop and performs the Hello
// handshake with the bus daemon, per §4.3/§4.4.
func Dial(transport Transport, mechanisms []auth.Mechanism, opts ...Option) (*Conn, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	c := &Conn{
		transport: transport,
		cfg:       cfg,
		log:       cfg.logger,
		ops:       make(chan func(), 64),
		stopCh:    make(chan struct{}),
		binds:     newBindTable(),
		replies:   newReplyTable(),
		matches:   newMatchTable(),
		serial:    cfg.serialStart - 1,
	}
	atomic.StoreInt32(&c.state, int32(stateAuthenticating))

	hs := &auth.ClientHandshake{Mechanisms: mechanisms, LineTimeout: cfg.authLineTimeout}
	_, leftover, err := hs.Run(transport)
	if err != nil {
		c.log.Warningf("dbus: authentication failed: %v", err)
		transport.Close()
		return nil, &AuthError{Reason: err.Error()}
	}

	c.registerPeerBinds()

	go c.runLoop()
	go c.readLoop(leftover)

	if err := c.hello(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// submit posts op onto the connection thread's mailbox. Safe to call
// from any goroutine, including from inside a handler already running
// on the connection thread (it will simply run after the current op
// returns), per §5's reentrancy requirement.
func (c *Conn) submit(op func()) {
	select {
	case c.ops <- op:
	case <-c.stopCh:
	}
}

// call is like submit but blocks the caller until op has actually run
// on the connection thread, for operations (Bind, AddMatch, Close)
// whose caller needs the side effect to be visible before it returns.
func (c *Conn) call(op func()) {
	done := make(chan struct{})
	c.submit(func() {
		op()
		close(done)
	})
	select {
	case <-done:
	case <-c.stopCh:
	}
}

func (c *Conn) runLoop() {
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.stopCh:
			return
		}
	}
}

// readLoop owns the transport's read side: it reads raw bytes,
// frames complete messages via PeekMessageLength, and posts each
// decoded message to the connection thread via submit. leftover is
// any bytes the auth handshake already read off the wire that belong
// to the message stream.
func (c *Conn) readLoop(leftover []byte) {
	buf := append([]byte(nil), leftover...)
	chunk := make([]byte, c.cfg.readBufferSize)
	for {
		for {
			total, ok, err := PeekMessageLength(buf)
			if err != nil {
				c.submit(func() { c.fail(&ParseError{Reason: "framing", Err: err}) })
				return
			}
			if !ok {
				break
			}
			if total > c.cfg.maxMessageSize {
				reason := fmt.Sprintf("message size %d exceeds configured maximum %d", total, c.cfg.maxMessageSize)
				c.submit(func() { c.fail(&ParseError{Reason: reason}) })
				return
			}
			if len(buf) < total {
				break
			}
			msg, consumed, err := UnmarshalMessage(buf[:total])
			if err != nil {
				pe := err
				c.submit(func() { c.fail(&ParseError{Reason: "decode", Err: pe}) })
				return
			}
			buf = buf[consumed:]
			m := msg
			c.submit(func() { c.dispatch(m) })
		}
		n, err := c.transport.Recv(chunk)
		if err != nil {
			c.submit(func() { c.fail(ErrDisconnected) })
			return
		}
		buf = append(buf, chunk[:n]...)
	}
}

// fail tears the connection down from within the run loop: it drains
// pending replies with a RemoteError named ErrorFailed carrying the
// reason's text, and stops both goroutines.
// Must only be called on the connection thread.
func (c *Conn) fail(reason error) {
	if atomic.LoadInt32(&c.state) == int32(stateClosed) {
		return
	}
	atomic.StoreInt32(&c.state, int32(stateClosed))
	c.closeMu.Lock()
	c.closeErr = reason
	c.closeMu.Unlock()

	switch reason.(type) {
	case *ParseError, *ProtocolViolation:
		c.log.Errorf("dbus: closing connection after %v", reason)
	default:
		c.log.Noticef("dbus: connection closing: %v", reason)
	}

	// §4.4's closed-state disposition: pending replies are notified,
	// and binds/matches are released rather than left reachable on a
	// connection that can no longer dispatch anything to them.
	c.replies.drain(&RemoteError{Name: ErrorFailed, Message: reason.Error()})
	c.binds = newBindTable()
	c.matches = newMatchTable()
	c.transport.Close()
	c.stopped.Do(func() { close(c.stopCh) })
}

// Close tears the connection down from any goroutine.
func (c *Conn) Close() error {
	c.call(func() { c.fail(ErrDisconnected) })
	return nil
}

// State reports the connection's current lifecycle state. Safe from
// any goroutine.
func (c *Conn) State() string {
	switch connState(atomic.LoadInt32(&c.state)) {
	case stateNew:
		return "new"
	case stateAuthenticating:
		return "authenticating"
	case stateHelloSent:
		return "hello-sent"
	case stateReady:
		return "ready"
	default:
		return "closed"
	}
}

// nextSerial assigns the next outgoing serial, skipping zero (reserved,
// §6) and, on wraparound, skipping any serial still live in the
// replies table rather than colliding with a pending call (Open
// Question #1).
func (c *Conn) nextSerial() uint32 {
	for {
		c.serial++
		if c.serial == 0 {
			c.serial = 1
		}
		if !c.replies.has(c.serial) {
			return c.serial
		}
	}
}

// registerPeerBinds installs the org.freedesktop.DBus.Peer handlers
// (Ping, GetMachineId) as ordinary binds on the wildcard path "" —
// per SPEC_FULL.md's redesign of the teacher's ad hoc special-casing
// in dispatchMessage into pre-registered entries in the same table
// every other bind uses.
func (c *Conn) registerPeerBinds() {
	const peerIface = "org.freedesktop.DBus.Peer"
	_ = c.binds.add("", peerIface, "Ping", func(call *Message) (*Message, error) {
		return NewMethodReturn(call), nil
	})
	_ = c.binds.add("", peerIface, "GetMachineId", func(call *Message) (*Message, error) {
		reply := NewMethodReturn(call)
		if err := reply.AppendArgs(machineID()); err != nil {
			return nil, err
		}
		return reply, nil
	})
}

// hello sends the bus daemon's Hello method call and waits for the
// assigned unique name, per §4.4.
func (c *Conn) hello() error {
	msg := NewMethodCall(BusDaemonPath, BusDaemonInterface, "Hello")
	msg.Destination = BusDaemonName
	atomic.StoreInt32(&c.state, int32(stateHelloSent))
	reply, err := c.Call(msg, c.cfg.helloTimeout)
	if err != nil {
		c.log.Warningf("dbus: hello failed: %v", err)
		return fmt.Errorf("dbus: hello: %w", err)
	}
	var name string
	if err := reply.Args(&name); err != nil {
		c.log.Warningf("dbus: hello failed: %v", err)
		return fmt.Errorf("dbus: hello: %w", err)
	}
	c.call(func() {
		c.UniqueName = name
		atomic.StoreInt32(&c.state, int32(stateReady))
	})
	c.log.Noticef("dbus: connection ready, unique name %s", name)
	return nil
}

// dispatch routes one decoded message by kind. Runs only on the
// connection thread.
func (c *Conn) dispatch(msg *Message) {
	switch msg.Type {
	case TypeMethodCall:
		c.dispatchCall(msg)
	case TypeMethodReturn:
		if reg, ok := c.replies.take(msg.ReplySerial); ok && reg.onReturn != nil {
			reg.onReturn(msg)
		}
	case TypeError:
		if reg, ok := c.replies.take(msg.ReplySerial); ok && reg.onError != nil {
			reg.onError(remoteErrorFromMessage(msg))
		}
	case TypeSignal:
		c.matches.dispatch(msg)
	}
}

func (c *Conn) dispatchCall(msg *Message) {
	handler, ok := c.binds.lookup(msg.Path, msg.Interface, msg.Member)
	if !ok {
		if msg.Flags&FlagNoReplyExpected == 0 {
			reply := NewErrorReply(msg, ErrorUnknownMethod,
				fmt.Sprintf("no method %s on interface %s at %s", msg.Member, msg.Interface, msg.Path))
			c.sendLocked(reply)
		}
		return
	}
	reply, err := handler(msg)
	if err != nil {
		c.log.Errorf("dbus: handler for %s.%s at %s returned an error: %v", msg.Interface, msg.Member, msg.Path, err)
	}
	if msg.Flags&FlagNoReplyExpected != 0 {
		return
	}
	if err != nil {
		reply = errorReplyFor(msg, err)
	}
	if reply == nil {
		reply = NewMethodReturn(msg)
	}
	c.sendLocked(reply)
}

// errorReplyFor turns a handler's returned error into a wire error
// reply: an *Error is sent verbatim under its own name, anything else
// becomes the stock InvalidArgs reply (§4.4's "argument-error
// convenience" built around ErrInvalidArgs).
func errorReplyFor(call *Message, err error) *Message {
	if de, ok := err.(*Error); ok {
		return NewErrorReply(call, de.Name, de.Message)
	}
	return NewErrorReply(call, ErrorInvalidArgs, err.Error())
}

// sendLocked marshals and writes msg; must only be called on the
// connection thread, where the transport's Send ordering is
// guaranteed single-writer.
func (c *Conn) sendLocked(msg *Message) {
	if msg.Serial == 0 {
		msg.Serial = c.nextSerial()
	}
	buf, err := msg.Marshal()
	if err != nil {
		c.log.Errorf("dbus: marshal outgoing message: %v", err)
		return
	}
	if err := c.transport.Send(buf); err != nil {
		c.fail(&SendError{Err: err})
	}
}

// Send transmits msg with no reply expected (a signal, or a method
// call with FlagNoReplyExpected set), assigning it a serial.
func (c *Conn) Send(msg *Message) error {
	if atomic.LoadInt32(&c.state) == int32(stateClosed) {
		return ErrDisconnected
	}
	errCh := make(chan error, 1)
	c.submit(func() {
		if msg.Serial == 0 {
			msg.Serial = c.nextSerial()
		}
		buf, err := msg.Marshal()
		if err != nil {
			errCh <- err
			return
		}
		if err := c.transport.Send(buf); err != nil {
			c.fail(&SendError{Err: err})
			errCh <- &SendError{Err: err}
			return
		}
		errCh <- nil
	})
	return <-errCh
}

// PendingCall is an in-flight method call started with CallAsync.
type PendingCall struct {
	resultCh chan callResult
}

type callResult struct {
	msg *Message
	err error
}

// Wait blocks until the reply arrives, timeout elapses, the
// connection closes, or Unblock is called — the block/unblock/wait
// modes of §4.4's synchronous-call primitive.
func (p *PendingCall) Wait(timeout time.Duration) (*Message, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case r := <-p.resultCh:
		return r.msg, r.err
	case <-timer:
		return nil, fmt.Errorf("dbus: call timed out after %s", timeout)
	}
}

// Unblock releases a caller waiting in Wait with ErrUnblocked, without
// affecting whether the real reply eventually arrives and is
// discarded by the replies table's one-shot take.
func (p *PendingCall) Unblock() {
	select {
	case p.resultCh <- callResult{err: ErrUnblocked}:
	default:
	}
}

// CallAsync sends a method call and registers its reply, returning
// immediately with a handle the caller can Wait or Unblock.
func (c *Conn) CallAsync(msg *Message) (*PendingCall, error) {
	if atomic.LoadInt32(&c.state) == int32(stateClosed) {
		return nil, ErrDisconnected
	}
	msg.Type = TypeMethodCall
	pc := &PendingCall{resultCh: make(chan callResult, 1)}
	errCh := make(chan error, 1)
	c.submit(func() {
		serial := c.nextSerial()
		msg.Serial = serial
		buf, err := msg.Marshal()
		if err != nil {
			errCh <- err
			return
		}
		c.replies.add(serial, replyReg{
			onReturn: func(reply *Message) {
				c.log.Debugf("dbus: reply fired: serial=%d", serial)
				select {
				case pc.resultCh <- callResult{msg: reply}:
				default:
				}
			},
			onError: func(re *RemoteError) {
				c.log.Debugf("dbus: reply fired with error: serial=%d err=%v", serial, re)
				select {
				case pc.resultCh <- callResult{err: re}:
				default:
				}
			},
		})
		c.log.Debugf("dbus: reply registered: serial=%d", serial)
		if err := c.transport.Send(buf); err != nil {
			c.replies.take(serial)
			c.fail(&SendError{Err: err})
			errCh <- &SendError{Err: err}
			return
		}
		errCh <- nil
	})
	if err := <-errCh; err != nil {
		return nil, err
	}
	return pc, nil
}

// Call sends a method call and blocks until its reply arrives or
// timeout elapses.
func (c *Conn) Call(msg *Message, timeout time.Duration) (*Message, error) {
	pc, err := c.CallAsync(msg)
	if err != nil {
		return nil, err
	}
	return pc.Wait(timeout)
}

// Bind registers handler for method calls addressed to path/iface/member.
// iface == "" matches a call with no INTERFACE header.
func (c *Conn) Bind(path ObjectPath, iface, member string, handler HandlerFunc) error {
	errCh := make(chan error, 1)
	c.call(func() {
		err := c.binds.add(path, iface, member, handler)
		if err == nil {
			c.log.Debugf("dbus: bind added: path=%q interface=%q member=%q", path, iface, member)
		}
		errCh <- err
	})
	return <-errCh
}

// Unbind removes a previously registered bind.
func (c *Conn) Unbind(path ObjectPath, iface, member string) bool {
	okCh := make(chan bool, 1)
	c.call(func() {
		ok := c.binds.remove(path, iface, member)
		if ok {
			c.log.Debugf("dbus: bind removed: path=%q interface=%q member=%q", path, iface, member)
		}
		okCh <- ok
	})
	return <-okCh
}

// AddMatch registers handler for signals matching rule, additionally
// asking the bus daemon to route them to this connection.
func (c *Conn) AddMatch(rule *MatchRule, handler func(*Message)) (uint64, error) {
	msg := NewMethodCall(BusDaemonPath, BusDaemonInterface, "AddMatch")
	msg.Destination = BusDaemonName
	if err := msg.AppendArgs(rule.String()); err != nil {
		return 0, err
	}
	if _, err := c.Call(msg, c.cfg.handlerTimeout); err != nil {
		return 0, err
	}
	var id uint64
	c.call(func() {
		id = c.matches.add(rule, handler)
		c.log.Debugf("dbus: match added: id=%d rule=%q", id, rule.String())
	})
	return id, nil
}

// RemoveMatch unregisters a match added with AddMatch, locally only —
// it does not send RemoveMatch to the bus daemon, mirroring the
// teacher's SignalWatch.Cancel which only ever removed its local
// entry. An embedder that needs the daemon-side rule removed too can
// send RemoveMatch itself with the same rule string.
func (c *Conn) RemoveMatch(id uint64) bool {
	okCh := make(chan bool, 1)
	c.call(func() {
		ok := c.matches.remove(id)
		if ok {
			c.log.Debugf("dbus: match removed: id=%d", id)
		}
		okCh <- ok
	})
	return <-okCh
}

// machineID returns a fixed all-zero machine id for the Peer
// GetMachineId reply; /var/lib/dbus/machine-id is not read and there
// is no option to supply another value.
func machineID() string {
	return "00000000000000000000000000000000"
}
