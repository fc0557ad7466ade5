// Package proxy offers convenience wrappers over a *dbus.Conn for
// calling methods on and watching signals from a specific remote
// object, grounded on the teacher's ObjectProxy/MessageBus/Properties
// types but adapted to dbuscore's explicit Conn and MatchRule.
package proxy

import (
	"fmt"
	"time"

	"github.com/dbuscore/dbuscore"
	"github.com/dbuscore/dbuscore/introspect"
)

// Object is a remote object identified by a destination bus name and
// object path, the same role the teacher's ObjectProxy played.
type Object struct {
	conn        *dbus.Conn
	destination string
	path        dbus.ObjectPath
}

// NewObject returns a proxy for path at destination over conn.
func NewObject(conn *dbus.Conn, destination string, path dbus.ObjectPath) *Object {
	return &Object{conn: conn, destination: destination, path: path}
}

func (o *Object) Path() dbus.ObjectPath { return o.path }

// Interface narrows Object to a specific D-Bus interface, the same
// split the teacher expressed as distinct embedding types
// (Introspectable, Properties, MessageBus) over one ObjectProxy.
func (o *Object) Interface(name string) *Interface {
	return &Interface{obj: o, name: name}
}

// Interface is Object scoped to one D-Bus interface name.
type Interface struct {
	obj  *Object
	name string
}

// Call invokes member with args and decodes the reply into out (zero
// or more pointers), blocking up to timeout.
func (i *Interface) Call(timeout time.Duration, member string, args []interface{}, out ...interface{}) error {
	msg := dbus.NewMethodCall(i.obj.path, i.name, member)
	msg.Destination = i.obj.destination
	if err := msg.AppendArgs(args...); err != nil {
		return fmt.Errorf("dbus: proxy: %w", err)
	}
	reply, err := i.obj.conn.Call(msg, timeout)
	if err != nil {
		return err
	}
	if len(out) == 0 {
		return nil
	}
	return reply.Args(out...)
}

// WatchSignal registers handler for signals named member on this
// interface from this object, returning a Watch the caller can
// Cancel.
func (i *Interface) WatchSignal(member string, handler func(*dbus.Message)) (*Watch, error) {
	return i.WatchSignalArgs(member, nil, handler)
}

// WatchSignalArgs is WatchSignal with additional argN string-equality
// filters (see dbus.MatchRule.Args), for callers that need the bus
// daemon itself to narrow delivery (e.g. NameOwnerChanged on a
// specific name).
func (i *Interface) WatchSignalArgs(member string, args map[int]string, handler func(*dbus.Message)) (*Watch, error) {
	rule := &dbus.MatchRule{
		Type:      dbus.TypeSignal,
		Sender:    i.obj.destination,
		Path:      i.obj.path,
		Interface: i.name,
		Member:    member,
		Args:      args,
	}
	id, err := i.obj.conn.AddMatch(rule, handler)
	if err != nil {
		return nil, err
	}
	return &Watch{conn: i.obj.conn, id: id}, nil
}

// Watch is a cancelable signal subscription.
type Watch struct {
	conn *dbus.Conn
	id   uint64
}

func (w *Watch) Cancel() bool { return w.conn.RemoveMatch(w.id) }

// Properties wraps the standard org.freedesktop.DBus.Properties
// interface, per the teacher's Properties type.
type Properties struct {
	obj *Object
}

func (o *Object) Properties() *Properties { return &Properties{obj: o} }

const propertiesIface = "org.freedesktop.DBus.Properties"

func (p *Properties) Get(timeout time.Duration, iface, name string) (interface{}, error) {
	var v dbus.Variant
	if err := p.obj.Interface(propertiesIface).Call(timeout, "Get", []interface{}{iface, name}, &v); err != nil {
		return nil, err
	}
	return v.Value, nil
}

func (p *Properties) Set(timeout time.Duration, iface, name string, value interface{}) error {
	return p.obj.Interface(propertiesIface).Call(timeout, "Set",
		[]interface{}{iface, name, dbus.Variant{Value: value}})
}

func (p *Properties) GetAll(timeout time.Duration, iface string) (map[string]dbus.Variant, error) {
	var props map[string]dbus.Variant
	if err := p.obj.Interface(propertiesIface).Call(timeout, "GetAll", []interface{}{iface}, &props); err != nil {
		return nil, err
	}
	return props, nil
}

// Peer wraps org.freedesktop.DBus.Peer, the interface every dbuscore
// Conn answers itself via conn.go's pre-registered binds.
type Peer struct {
	obj *Object
}

func (o *Object) Peer() *Peer { return &Peer{obj: o} }

func (p *Peer) Ping(timeout time.Duration) error {
	return p.obj.Interface("org.freedesktop.DBus.Peer").Call(timeout, "Ping", nil)
}

func (p *Peer) GetMachineId(timeout time.Duration) (string, error) {
	var id string
	err := p.obj.Interface("org.freedesktop.DBus.Peer").Call(timeout, "GetMachineId", nil, &id)
	return id, err
}

// Introspect calls org.freedesktop.DBus.Introspectable.Introspect and
// parses the reply, consulting cache first when non-nil so repeat
// calls against the same object skip both the round trip and the XML
// decode.
func (o *Object) Introspect(timeout time.Duration, cache *introspect.Cache) (*introspect.Node, error) {
	if cache != nil {
		if n, ok := cache.Get(o.destination, string(o.path)); ok {
			return n, nil
		}
	}
	var xmlText string
	if err := o.Interface("org.freedesktop.DBus.Introspectable").
		Call(timeout, "Introspect", nil, &xmlText); err != nil {
		return nil, err
	}
	n, err := introspect.Parse(xmlText)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache.Put(o.destination, string(o.path), n)
	}
	return n, nil
}
