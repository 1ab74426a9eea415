// Package derive decides where derivative generation runs: in the request
// goroutine, on a bounded local worker pool, or on a remote worker.
package derive

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"portfolio/imagestore/internal/models"
)

var (
	ErrQueueFull = errors.New("derive queue is full")
	ErrClosed    = errors.New("derive pool is closed")
)

type Deriver interface {
	DeriveAll(ctx context.Context, stored models.StoredAsset) ([]models.Derivative, error)
}

// Dispatcher schedules derivative generation for a freshly stored original.
type Dispatcher interface {
	Dispatch(ctx context.Context, stored models.StoredAsset) error
}

// Inline derives synchronously; the ingest call returns after every size
// has been attempted.
type Inline struct {
	deriver Deriver
}

func NewInline(deriver Deriver) *Inline {
	return &Inline{deriver: deriver}
}

func (d *Inline) Dispatch(ctx context.Context, stored models.StoredAsset) error {
	_, err := d.deriver.DeriveAll(ctx, stored)
	return err
}

// Pool runs derivations on a fixed number of goroutines fed by a bounded
// queue. Dispatch never blocks.
type Pool struct {
	deriver Deriver
	jobs    chan models.StoredAsset
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(deriver Deriver, workers, queueSize int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		deriver: deriver,
		jobs:    make(chan models.StoredAsset, queueSize),
		log:     log,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for stored := range p.jobs {
		// Jobs outlive the request that queued them.
		if _, err := p.deriver.DeriveAll(context.Background(), stored); err != nil {
			p.log.Warn().Err(err).Str("original", stored.Name).Msg("background derivation incomplete")
		}
	}
}

func (p *Pool) Dispatch(_ context.Context, stored models.StoredAsset) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.jobs <- stored:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending is the number of queued, not yet started jobs.
func (p *Pool) Pending() int {
	return len(p.jobs)
}

// Close stops accepting work, finishes the queued jobs and waits for the
// workers to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
