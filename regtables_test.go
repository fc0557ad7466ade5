package dbus

import "testing"

func TestBindTableLookupPathWildcard(t *testing.T) {
	t.Parallel()
	bt := newBindTable()
	const peerIface = "org.freedesktop.DBus.Peer"
	if err := bt.add("", peerIface, "Ping", func(call *Message) (*Message, error) {
		return NewMethodReturn(call), nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, ok := bt.lookup("/some/object", peerIface, "Ping"); !ok {
		t.Error("lookup did not fall back to the path=\"\" wildcard bind for a real object path")
	}
	if _, ok := bt.lookup("/some/object", peerIface, "GetMachineId"); ok {
		t.Error("lookup matched a member that was never bound")
	}
	if _, ok := bt.lookup("", peerIface, "Ping"); !ok {
		t.Error("lookup should still match an exact path=\"\" call")
	}
}

func TestBindTableLookupInterfaceWildcardStillWorks(t *testing.T) {
	t.Parallel()
	bt := newBindTable()
	if err := bt.add("/obj", "", "Ping", func(call *Message) (*Message, error) {
		return NewMethodReturn(call), nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, ok := bt.lookup("/obj", "com.example.Whatever", "Ping"); !ok {
		t.Error("lookup did not fall back to the interface=\"\" wildcard bind at the same path")
	}
	if _, ok := bt.lookup("/other", "com.example.Whatever", "Ping"); ok {
		t.Error("lookup matched a path that has no bind and no path wildcard")
	}
}

func TestReplyTableDrainEmptiesTable(t *testing.T) {
	t.Parallel()
	rt := newReplyTable()
	fired := make(chan *RemoteError, 1)
	rt.add(1, replyReg{onError: func(re *RemoteError) { fired <- re }})

	rt.drain(&RemoteError{Name: ErrorFailed, Message: "gone"})

	select {
	case re := <-fired:
		if re.Name != ErrorFailed {
			t.Errorf("drain delivered %v, want %s", re, ErrorFailed)
		}
	default:
		t.Fatal("drain did not invoke the pending reply's onError")
	}
	if rt.has(1) {
		t.Error("drain left an entry behind")
	}
}
