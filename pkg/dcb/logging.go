package dcb

import (
	"log"
	"os"
)

// pkgLogger is the package-wide logger, grounded in the teacher's plain
// stdlib `log` usage (internal/web-app/main.go): no structured-logging
// library is pulled into the core store, which runs as a library inside a
// caller's own process and should not impose a logging framework on it.
var pkgLogger = log.New(os.Stderr, "dcb: ", log.LstdFlags)

func logger() *log.Logger {
	return pkgLogger
}
