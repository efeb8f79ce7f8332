package reactor

import (
	"bytes"
	"runtime"
	"strconv"
)

// currentGoroutineID extracts the calling goroutine's numeric ID by parsing
// the header line of runtime.Stack's output ("goroutine 123 [running]:
// ..."). This mirrors eventloop.getGoroutineID: Go deliberately exposes no
// supported API for this, but a cheap stack-trace parse is the established
// trick for a runtime thread-affinity assertion. It runs once when a
// selector's loop starts and once for every write the worker moves into a
// channel's buffer (Selector.assertOnSelectorThread).
func currentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}
