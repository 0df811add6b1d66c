package bench

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestFunc issues one request against the service. The harness supplies
// the context; implementations must respect its deadline.
type RequestFunc func(ctx context.Context, query string, documents []string) error

// Options bound a benchmark run. Exactly one of TotalRequests or Duration
// must be set; Concurrency defaults to 1.
type Options struct {
	Concurrency int
	// TotalRequests stops the run after this many requests were issued.
	TotalRequests int
	// Duration stops dispatching new requests once elapsed.
	Duration time.Duration
	// Grace bounds how long in-flight requests may finish past the
	// deadline before being recorded as cancelled failures. Zero means
	// DefaultGrace. Only meaningful with Duration.
	Grace time.Duration
	// Warmup issues this many serial unmeasured calls first, reducing
	// cold-start noise in the percentiles.
	Warmup int
}

// DefaultGrace is the post-deadline window in-flight requests may use.
const DefaultGrace = 5 * time.Second

type outcome struct {
	ok      bool
	latency time.Duration
	err     string
}

// Run drives Concurrency workers against fn until the configured bound is
// hit. Each worker draws work from workload, measures its own wall-clock
// latency, and reports into a single aggregator; one failing request is
// counted, never fatal. Invariant on the result: Succeeded + Failed ==
// Issued <= the configured bound.
func Run(ctx context.Context, log zerolog.Logger, fn RequestFunc, workload Workload, opts Options) (Result, error) {
	if fn == nil || workload == nil {
		return Result{}, errors.New("bench: nil request function or workload")
	}
	if opts.TotalRequests <= 0 && opts.Duration <= 0 {
		return Result{}, errors.New("bench: either TotalRequests or Duration must be set")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}

	for i := 0; i < opts.Warmup; i++ {
		q, docs := workload.Next()
		if err := fn(ctx, q, docs); err != nil {
			log.Warn().Err(err).Msg("warmup request failed")
		}
	}

	dispatchCtx := ctx
	callCtx := ctx
	start := time.Now()
	if opts.Duration > 0 {
		var cancelDispatch, cancelCall context.CancelFunc
		dispatchCtx, cancelDispatch = context.WithDeadline(ctx, start.Add(opts.Duration))
		defer cancelDispatch()
		callCtx, cancelCall = context.WithDeadline(ctx, start.Add(opts.Duration+opts.Grace))
		defer cancelCall()
	}

	outcomes := make(chan outcome, opts.Concurrency)
	var issued int64

	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if dispatchCtx.Err() != nil {
					return
				}
				if opts.TotalRequests > 0 && atomic.AddInt64(&issued, 1) > int64(opts.TotalRequests) {
					return
				}
				q, docs := workload.Next()
				t0 := time.Now()
				err := fn(callCtx, q, docs)
				lat := time.Since(t0)
				o := outcome{ok: err == nil, latency: lat}
				if err != nil {
					// a request abandoned past the grace window is a
					// failure due to cancellation, not silently dropped
					o.err = err.Error()
				}
				outcomes <- o
			}
		}()
	}

	// single aggregator; workers never share mutable state
	res := Result{RunID: uuid.New().String(), Concurrency: opts.Concurrency}
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		for o := range outcomes {
			res.Issued++
			if o.ok {
				res.Succeeded++
				res.latencies = append(res.latencies, o.latency)
			} else {
				res.Failed++
				if res.ErrorSample == "" {
					res.ErrorSample = o.err
				}
			}
		}
	}()

	wg.Wait()
	close(outcomes)
	<-aggDone

	res.Elapsed = time.Since(start)
	res.finalize()
	log.Info().
		Str("run_id", res.RunID).
		Int("issued", res.Issued).
		Int("ok", res.Succeeded).
		Int("failed", res.Failed).
		Float64("rps", res.Throughput).
		Msg("benchmark finished")
	return res, nil
}

// Validate reports option errors early for CLI surfacing.
func (o Options) Validate() error {
	if o.TotalRequests <= 0 && o.Duration <= 0 {
		return fmt.Errorf("either --requests or --duration is required")
	}
	if o.TotalRequests > 0 && o.Duration > 0 {
		return fmt.Errorf("--requests and --duration are mutually exclusive")
	}
	return nil
}
