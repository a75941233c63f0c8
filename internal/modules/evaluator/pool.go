package evaluator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/darwin/internal/modules/strategy"
)

// Pool fans strategy evaluations out across worker goroutines with a hard
// per-evaluation timeout. Strategies whose evaluation errors or times out
// are annotated with the failure fitness so a stuck evaluation can never
// block a generation.
type Pool struct {
	log     zerolog.Logger
	eval    Evaluator
	workers int
	timeout time.Duration
}

// NewPool builds a pool over the given evaluator.
func NewPool(log zerolog.Logger, eval Evaluator, workers int, timeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pool{
		log:     log.With().Str("component", "evaluation_pool").Logger(),
		eval:    eval,
		workers: workers,
		timeout: timeout,
	}
}

type job struct {
	index int
	s     *strategy.Strategy
}

type outcome struct {
	index   int
	fitness *strategy.Fitness
}

// EvaluateAll evaluates every strategy that does not already carry a
// fitness, attaching results in place. It returns the number of failed
// evaluations. Already-evaluated strategies (elites carried over) are
// skipped.
func (p *Pool) EvaluateAll(ctx context.Context, strategies []*strategy.Strategy, dataset strategy.Dataset) int {
	var pending []job
	for i, s := range strategies {
		if s.Fitness() == nil {
			pending = append(pending, job{index: i, s: s})
		}
	}
	if len(pending) == 0 {
		return 0
	}

	jobs := make(chan job, len(pending))
	outcomes := make(chan outcome, len(pending))

	workers := p.workers
	if len(pending) < workers {
		workers = len(pending)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, jobs, outcomes, dataset)
		}()
	}

	for _, j := range pending {
		jobs <- j
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	failed := 0
	for out := range outcomes {
		strategies[out.index].SetFitness(out.fitness)
		if out.fitness.Failed {
			failed++
		}
	}
	return failed
}

func (p *Pool) worker(ctx context.Context, jobs <-chan job, outcomes chan<- outcome, dataset strategy.Dataset) {
	for j := range jobs {
		outcomes <- outcome{index: j.index, fitness: p.evaluateOne(ctx, j.s, dataset)}
	}
}

// evaluateOne runs a single evaluation under the pool timeout. The
// evaluator call runs in its own goroutine so a non-cooperative evaluator
// cannot hold the worker past the deadline.
func (p *Pool) evaluateOne(ctx context.Context, s *strategy.Strategy, dataset strategy.Dataset) *strategy.Fitness {
	evalCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type reply struct {
		result Result
		err    error
	}
	done := make(chan reply, 1)
	go func() {
		result, err := p.eval.Evaluate(evalCtx, s, dataset)
		done <- reply{result: result, err: err}
	}()

	select {
	case <-evalCtx.Done():
		p.log.Warn().
			Str("strategy_id", s.ID()).
			Dur("timeout", p.timeout).
			Msg("evaluation timed out, assigning failure fitness")
		return strategy.NewFailureFitness()
	case r := <-done:
		if r.err != nil {
			p.log.Warn().
				Str("strategy_id", s.ID()).
				Err(r.err).
				Msg("evaluation failed, assigning failure fitness")
			return strategy.NewFailureFitness()
		}
		return r.result.Fitness()
	}
}
