package query

import (
	"context"
	"strings"
)

// Group batches fragments from in: every size fragments are joined and sent
// as one, and whatever is left is flushed when in closes. Order and content
// are untouched. The returned channel closes when in closes or ctx ends.
func Group(ctx context.Context, in <-chan string, size int) <-chan string {
	if size <= 0 {
		size = 1
	}
	out := make(chan string, 1)
	go func() {
		defer close(out)
		var sb strings.Builder
		n := 0
		emit := func() bool {
			if n == 0 {
				return true
			}
			s := sb.String()
			sb.Reset()
			n = 0
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			select {
			case frag, ok := <-in:
				if !ok {
					emit()
					return
				}
				sb.WriteString(frag)
				n++
				if n >= size && !emit() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
