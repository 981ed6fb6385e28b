package ingest

// NewUnboundedChan returns a send side that never blocks its caller (aside
// from the internal relay goroutine picking items up) and a receive side
// that observes items in send order, closing once the send side is closed
// and drained. The device session actor forwards frame batches onto the
// send side without ever risking a stall from backpressure, per §5's
// "device session must not block on backpressure" rule.
func NewUnboundedChan[T any]() (chan<- T, <-chan T) {
	in := make(chan T)
	out := make(chan T)

	go func() {
		defer close(out)
		var queue []T
		for {
			if len(queue) == 0 {
				v, ok := <-in
				if !ok {
					return
				}
				queue = append(queue, v)
				continue
			}
			select {
			case v, ok := <-in:
				if !ok {
					for _, q := range queue {
						out <- q
					}
					return
				}
				queue = append(queue, v)
			case out <- queue[0]:
				queue = queue[1:]
			}
		}
	}()

	return in, out
}
