package session

import (
	"sync"

	"github.com/AgilWave/examina-proctor/internal/peer"
	"github.com/AgilWave/examina-proctor/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// opQueue is an unbounded FIFO of loop work. push never blocks, so a
// callback fired synchronously by the loop itself cannot stall it.
type opQueue struct {
	mu   sync.Mutex
	fns  []func()
	wake chan struct{}
}

func newOpQueue() *opQueue {
	return &opQueue{wake: make(chan struct{}, 1)}
}

func (q *opQueue) push(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// take removes and returns everything queued so far.
func (q *opQueue) take() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	fns := q.fns
	q.fns = nil
	return fns
}

// post queues fn on the session loop. It reports false once the loop has
// stopped; fn is then dropped.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	s.ops.push(fn)
	return true
}

// call runs fn on the loop and waits for its result.
func (s *Session) call(fn func() error) error {
	res := make(chan error, 1)
	if !s.post(func() { res <- fn() }) {
		return ErrSessionClosed
	}
	select {
	case err := <-res:
		return err
	case <-s.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

// loopFactory builds connections whose callbacks run on the session loop
// instead of the transport's goroutines.
type loopFactory struct {
	inner peer.Factory
	post  func(func()) bool
}

func (f loopFactory) New(cfg peer.Config) (peer.Conn, error) {
	ev := cfg.Events
	cfg.Events = peer.Events{
		OnSignal: func(data signaling.SignalData) {
			if ev.OnSignal != nil {
				f.post(func() { ev.OnSignal(data) })
			}
		},
		OnConnect: func() {
			if ev.OnConnect != nil {
				f.post(ev.OnConnect)
			}
		},
		OnTrack: func(track *webrtc.TrackRemote) {
			if ev.OnTrack != nil {
				f.post(func() { ev.OnTrack(track) })
			}
		},
		OnError: func(err error) {
			if ev.OnError != nil {
				f.post(func() { ev.OnError(err) })
			}
		},
		OnClose: func() {
			if ev.OnClose != nil {
				f.post(ev.OnClose)
			}
		},
	}
	return f.inner.New(cfg)
}
