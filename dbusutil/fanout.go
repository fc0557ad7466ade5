// Package dbusutil holds small helpers built on top of dbus.Conn that
// don't belong in the core multiplexer itself.
package dbusutil

import (
	"context"
	"time"

	"github.com/dbuscore/dbuscore"
	"golang.org/x/sync/errgroup"
)

// Call describes one method call to issue as part of a CallAll batch.
type Call struct {
	Path        dbus.ObjectPath
	Interface   string
	Member      string
	Destination string
	Args        []interface{}
	Reply       []interface{} // pointers to decode the reply into
}

// CallAll issues every call in calls concurrently over conn, each via
// its own Conn.Call, and waits for all of them — or the first error —
// per errgroup's fail-fast semantics. Each call gets its own copy of
// timeout.
//
// This is the one place in the module errgroup is exercised, the
// concurrency idiom `golang.org/x/sync/errgroup` is built for and a
// hand-rolled sync.WaitGroup-plus-error-channel would only reimplement
// less safely.
func CallAll(ctx context.Context, conn *dbus.Conn, timeout time.Duration, calls []Call) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range calls {
		c := calls[i]
		g.Go(func() error {
			msg := dbus.NewMethodCall(c.Path, c.Interface, c.Member)
			msg.Destination = c.Destination
			if err := msg.AppendArgs(c.Args...); err != nil {
				return err
			}
			done := make(chan error, 1)
			go func() {
				reply, err := conn.Call(msg, timeout)
				if err != nil {
					done <- err
					return
				}
				if len(c.Reply) > 0 {
					done <- reply.Args(c.Reply...)
					return
				}
				done <- nil
			}()
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}
