// Package downloader runs feed and icon fetches on a pool of workers. Jobs
// go in through a bounded queue and immutable results come back on a
// channel the controller drains once per tick.
package downloader

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Kind int

const (
	KindFeed Kind = iota + 1
	KindIcon
)

func (k Kind) String() string {
	switch k {
	case KindFeed:
		return "feed"
	case KindIcon:
		return "icon"
	default:
		return "unknown"
	}
}

// Job is an outbound request. URL is the feed url for feed jobs and the
// website url for icon jobs.
type Job struct {
	Kind Kind
	ID   int64
	URL  string
}

// Result is an inbound descriptor. A Started result only announces that a
// worker picked the job up.
type Result struct {
	Kind    Kind
	ID      int64
	Started bool

	Feed    FeedResult
	IconURL string
	Err     error
	Elapsed time.Duration
}

type Pool struct {
	fetcher Fetcher
	workers int
	jobs    chan Job
	results chan Result
	log     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewPool(fetcher Fetcher, workers, queueSize int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		fetcher: fetcher,
		workers: workers,
		jobs:    make(chan Job, queueSize),
		results: make(chan Result, 2*queueSize+2*workers),
		log:     logger.With("component", "downloader"),
	}
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			p.run(ctx, worker)
		}(i)
	}
	p.log.Info("downloader started", "workers", p.workers, "queue", cap(p.jobs))
}

// TryEnqueue hands a job to the pool without blocking. It reports false when
// the queue is full.
func (p *Pool) TryEnqueue(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops the workers and waits for them. Queued jobs are dropped.
func (p *Pool) Close() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
	})
}

func (p *Pool) run(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			if !p.send(ctx, Result{Kind: job.Kind, ID: job.ID, Started: true}) {
				return
			}
			res := p.do(ctx, job)
			if res.Err != nil {
				p.log.Warn("job failed", "worker", worker, "kind", job.Kind, "entry_id", job.ID, "url", job.URL, "error", res.Err)
			} else {
				p.log.Debug("job done", "worker", worker, "kind", job.Kind, "entry_id", job.ID, "elapsed", res.Elapsed)
			}
			if !p.send(ctx, res) {
				return
			}
		}
	}
}

func (p *Pool) do(ctx context.Context, job Job) Result {
	start := time.Now()
	res := Result{Kind: job.Kind, ID: job.ID}
	switch job.Kind {
	case KindFeed:
		res.Feed, res.Err = p.fetcher.FetchFeed(ctx, job.URL)
	case KindIcon:
		res.IconURL, res.Err = p.fetcher.FetchIcon(ctx, job.URL)
	default:
		res.Err = errUnknownKind
	}
	res.Elapsed = time.Since(start)
	return res
}

func (p *Pool) send(ctx context.Context, res Result) bool {
	select {
	case p.results <- res:
		return true
	case <-ctx.Done():
		return false
	}
}
