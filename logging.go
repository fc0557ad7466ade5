package dbus

import (
	"os"

	"github.com/op/go-logging"
)

// Logger is the structured logger type a Conn writes to: connection
// lifecycle transitions at NOTICE, auth failures at WARNING, dispatch
// errors and parse/protocol violations before teardown at ERROR, and
// registration table churn (bind/unbind, match add/remove, reply
// register/fire) at DEBUG.
type Logger = logging.Logger

var defaultFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.4s} [dbus] %{message}`,
)

// defaultLogger backs every Conn that doesn't supply WithLogger.
// Embedders that want their own formatting/backend call
// logging.SetBackend themselves and pass logging.MustGetLogger("dbus")
// via WithLogger instead of relying on this default.
var defaultLogger = newDefaultLogger()

func newDefaultLogger() *Logger {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, defaultFormat)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(logging.NOTICE, "")
	logging.SetBackend(leveled)
	return logging.MustGetLogger("dbus")
}
