// Package console is the kernel core's single-line text sink, matching
// the teacher kernel's direct fmt.Printf-to-console style (fs/blk.go's
// bdev_debug-gated prints in Bdev_block_t.Write/Read/EvictDone) rather
// than a structured logging library: there is no level, no fields, one
// line per event.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	mu  sync.Mutex
	out io.Writer = os.Stdout
	// Debug gates verbose tracing, mirroring fs/blk.go's bdev_debug flag.
	Debug = false
)

// SetOutput redirects the console sink, primarily for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// Printf writes a single formatted line to the console.
func Printf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, format, args...)
}

// Tracef writes a line only when Debug is enabled.
func Tracef(format string, args ...interface{}) {
	if !Debug {
		return
	}
	Printf(format, args...)
}

// ExitLine prints the standard "<name>: exit(<value>)" line, exactly the
// format spec.md §4.5(g) and §6 require.
func ExitLine(name string, value int) {
	Printf("%s: exit(%d)\n", name, value)
}
