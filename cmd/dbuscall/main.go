// Command dbuscall is a small CLI over dbuscore: call a method,
// introspect an object, or monitor signals matching a rule.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/dbuscore/dbuscore"
	"github.com/dbuscore/dbuscore/auth"
	"github.com/dbuscore/dbuscore/introspect"
	"github.com/dbuscore/dbuscore/proxy"

	_ "github.com/dbuscore/dbuscore/transport/tcp"
	_ "github.com/dbuscore/dbuscore/transport/unix"
)

var colorize = isatty.IsTerminal(os.Stdout.Fd())

func errorColor(s string) string {
	if !colorize {
		return s
	}
	return color.New(color.FgRed, color.Bold).Sprint(s)
}

func okColor(s string) string {
	if !colorize {
		return s
	}
	return color.New(color.FgGreen).Sprint(s)
}

func main() {
	app := &cli.App{
		Name:  "dbuscall",
		Usage: "talk to a D-Bus service",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "system", Usage: "use the system bus instead of the session bus"},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second},
		},
		Commands: []*cli.Command{
			callCommand,
			introspectCommand,
			monitorCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, errorColor(err.Error()))
		os.Exit(1)
	}
}

func connect(c *cli.Context) (*dbus.Conn, error) {
	which := dbus.SessionBus
	if c.Bool("system") {
		which = dbus.SystemBus
	}
	mechanisms := []auth.Mechanism{&auth.ExternalMechanism{UID: int64(os.Getuid())}}
	return dbus.Connect(which, mechanisms)
}

var callCommand = &cli.Command{
	Name:      "call",
	Usage:     "call a method and print its reply",
	ArgsUsage: "<destination> <path> <interface>.<member> [args...]",
	Action: func(c *cli.Context) error {
		if c.NArg() < 3 {
			return fmt.Errorf("usage: dbuscall call <destination> <path> <interface>.<member> [args...]")
		}
		conn, err := connect(c)
		if err != nil {
			return err
		}
		defer conn.Close()

		destination := c.Args().Get(0)
		path := dbus.ObjectPath(c.Args().Get(1))
		ifaceMember := c.Args().Get(2)
		dot := strings.LastIndex(ifaceMember, ".")
		if dot < 0 {
			return fmt.Errorf("expected <interface>.<member>, got %q", ifaceMember)
		}
		iface, member := ifaceMember[:dot], ifaceMember[dot+1:]

		var args []interface{}
		for _, a := range c.Args().Slice()[3:] {
			args = append(args, a)
		}

		msg := dbus.NewMethodCall(path, iface, member)
		msg.Destination = destination
		if err := msg.AppendArgs(args...); err != nil {
			return err
		}
		reply, err := conn.Call(msg, c.Duration("timeout"))
		if err != nil {
			return err
		}
		it, err := dbus.NewIterator(reply.Body, string(reply.Signature))
		if err != nil {
			return err
		}
		values, err := dbus.ReadAll(it)
		if err != nil {
			return err
		}
		fmt.Println(okColor(fmt.Sprintf("reply (%s):", reply.Signature)))
		for _, v := range values {
			fmt.Printf("  %v\n", v)
		}
		return nil
	},
}

var introspectCommand = &cli.Command{
	Name:      "introspect",
	Usage:     "fetch and print an object's introspection XML",
	ArgsUsage: "<destination> <path>",
	Action: func(c *cli.Context) error {
		if c.NArg() < 2 {
			return fmt.Errorf("usage: dbuscall introspect <destination> <path>")
		}
		conn, err := connect(c)
		if err != nil {
			return err
		}
		defer conn.Close()

		cache, err := introspect.NewCache(32)
		if err != nil {
			return err
		}
		obj := proxy.NewObject(conn, c.Args().Get(0), dbus.ObjectPath(c.Args().Get(1)))
		node, err := obj.Introspect(c.Duration("timeout"), cache)
		if err != nil {
			return err
		}
		for _, iface := range node.Interfaces {
			fmt.Println(okColor(iface.Name))
			for _, m := range iface.Methods {
				fmt.Printf("  method %s(%s) (%s)\n", m.Name, m.InSignature(), m.OutSignature())
			}
			for _, s := range iface.Signals {
				fmt.Printf("  signal %s(%s)\n", s.Name, s.Signature())
			}
		}
		return nil
	},
}

var monitorCommand = &cli.Command{
	Name:      "monitor",
	Usage:     "print signals matching sender/path/interface/member",
	ArgsUsage: "<sender> <path> <interface> <member>",
	Action: func(c *cli.Context) error {
		if c.NArg() < 4 {
			return fmt.Errorf("usage: dbuscall monitor <sender> <path> <interface> <member>")
		}
		conn, err := connect(c)
		if err != nil {
			return err
		}
		defer conn.Close()

		rule := &dbus.MatchRule{
			Type:      dbus.TypeSignal,
			Sender:    c.Args().Get(0),
			Path:      dbus.ObjectPath(c.Args().Get(1)),
			Interface: c.Args().Get(2),
			Member:    c.Args().Get(3),
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		_, err = conn.AddMatch(rule, func(msg *dbus.Message) {
			fmt.Println(okColor(fmt.Sprintf("%s %s.%s -> %s", msg.Path, msg.Interface, msg.Member, msg.Signature)))
		})
		if err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	},
}
