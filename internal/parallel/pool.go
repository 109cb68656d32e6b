package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
)

var (
	// ErrPoolCommunication reports a worker that can no longer be reached:
	// it panicked, exited, or the round was abandoned mid-flight. It is fatal
	// for the pool; later rounds fail with the same error.
	ErrPoolCommunication = errors.New("pool communication failure")
	ErrPoolClosed        = errors.New("pool is closed")
)

// Handler computes the result of one item from its own copy of the round
// context. It runs on worker goroutines and must not mutate shared state.
type Handler[C, P, R any] func(shared C, param P) R

// Cloner is implemented by round contexts. Every dispatched item receives a
// separate clone, so handlers never alias each other's context.
type Cloner[C any] interface {
	Clone() C
}

type Config struct {
	// Workers is the number of persistent workers; <= 0 uses DefaultWorkers.
	Workers int
	Metrics *Metrics
}

type task[C, P any] struct {
	shared C
	param  P
}

type outcome[R any] struct {
	value R
	err   error
}

type worker[C, P, R any] struct {
	id   int
	in   chan task[C, P]
	out  chan outcome[R]
	done chan struct{}
}

// Pool owns a fixed set of long-lived workers. Each worker reads from a
// private inbound channel and publishes on a private outbound channel.
// Rounds are serialized: a round never starts before the previous one has
// collected every result.
type Pool[C Cloner[C], P, R any] struct {
	handler Handler[C, P, R]
	workers []*worker[C, P, R]
	metrics *Metrics

	quit chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
	broken error
}

func NewPool[C Cloner[C], P, R any](handler Handler[C, P, R], cfg Config) (*Pool[C, P, R], error) {
	if handler == nil {
		return nil, fmt.Errorf("pool handler is required")
	}
	count := cfg.Workers
	if count <= 0 {
		count = DefaultWorkers()
	}

	p := &Pool[C, P, R]{
		handler: handler,
		workers: make([]*worker[C, P, R], count),
		metrics: cfg.Metrics,
		quit:    make(chan struct{}),
	}
	p.wg.Add(count)
	for i := range p.workers {
		w := &worker[C, P, R]{
			id:   i,
			in:   make(chan task[C, P]),
			out:  make(chan outcome[R]),
			done: make(chan struct{}),
		}
		p.workers[i] = w
		go p.run(w)
	}
	p.metrics.setWorkers(count)
	return p, nil
}

func (p *Pool[C, P, R]) Workers() int {
	return len(p.workers)
}

func (p *Pool[C, P, R]) run(w *worker[C, P, R]) {
	defer p.wg.Done()
	defer close(w.done)

	for t := range w.in {
		var (
			value   R
			catcher panics.Catcher
		)
		catcher.Try(func() {
			value = p.handler(t.shared, t.param)
		})
		if recovered := catcher.Recovered(); recovered != nil {
			p.deliver(w, outcome[R]{err: fmt.Errorf("%w: worker %d: %v", ErrPoolCommunication, w.id, recovered.AsError())})
			return
		}
		if !p.deliver(w, outcome[R]{value: value}) {
			return
		}
	}
}

func (p *Pool[C, P, R]) deliver(w *worker[C, P, R], o outcome[R]) bool {
	select {
	case w.out <- o:
		return true
	case <-p.quit:
		return false
	}
}

// ExecAndCollect runs one fork-join round. Item i goes to worker i mod N
// together with its own clone of shared; the results are folded into
// identity with combine. The order in which results are combined is not part
// of the contract, so combine must be commutative and associative.
//
// The params slice is consumed by the round. An empty batch returns identity
// without touching the pool, and so does a round whose ctx is already done.
// A round that fails or is cancelled through ctx after dispatch leaves the
// pool unusable.
func (p *Pool[C, P, R]) ExecAndCollect(ctx context.Context, params []P, identity R, combine func(R, R) R, shared C) (R, error) {
	if len(params) == 0 {
		return identity, nil
	}
	if combine == nil {
		return identity, fmt.Errorf("combiner is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return identity, ErrPoolClosed
	}
	if p.broken != nil {
		return identity, p.broken
	}
	// Nothing is dispatched for a round that is already cancelled.
	if err := ctx.Err(); err != nil {
		return identity, fmt.Errorf("%w: round not started: %w", ErrPoolCommunication, err)
	}

	started := time.Now()
	stop := make(chan struct{})
	dispatched := make(chan struct{})
	var dispatchErr error
	go func() {
		defer close(dispatched)
		for i, param := range params {
			w := p.workers[i%len(p.workers)]
			select {
			case w.in <- task[C, P]{shared: shared.Clone(), param: param}:
			case <-w.done:
				dispatchErr = fmt.Errorf("%w: worker %d stopped accepting work", ErrPoolCommunication, w.id)
				return
			case <-stop:
				return
			}
		}
	}()

	acc := identity
	var err error
	for i := range params {
		w := p.workers[i%len(p.workers)]
		select {
		case o := <-w.out:
			if o.err != nil {
				err = o.err
			} else {
				acc = combine(acc, o.value)
			}
		case <-w.done:
			err = fmt.Errorf("%w: worker %d exited mid-round", ErrPoolCommunication, w.id)
		case <-ctx.Done():
			err = fmt.Errorf("%w: round abandoned: %w", ErrPoolCommunication, ctx.Err())
		}
		if err != nil {
			break
		}
	}
	close(stop)
	<-dispatched
	if err == nil && dispatchErr != nil {
		err = dispatchErr
	}

	if err != nil {
		p.broken = err
		p.metrics.observeRound(len(params), time.Since(started), err)
		return identity, err
	}
	p.metrics.observeRound(len(params), time.Since(started), nil)
	return acc, nil
}

// Close closes every inbound channel, which tells the workers there is no
// more work, and joins them. The pool cannot be reused afterwards.
func (p *Pool[C, P, R]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.quit)
	for _, w := range p.workers {
		close(w.in)
	}
	p.wg.Wait()
	p.metrics.setWorkers(0)
	return nil
}
