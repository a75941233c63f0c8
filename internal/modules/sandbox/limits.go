package sandbox

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/aristath/darwin/internal/modules/factor"
)

// ResourceLimits bounds one sandboxed computation.
type ResourceLimits struct {
	// Timeout is the hard wall-clock budget. Zero means one second.
	Timeout time.Duration
	// MaxMemoryBytes caps process resident memory during execution.
	// Zero disables the memory check.
	MaxMemoryBytes uint64
}

// memoryPollInterval is how often resident memory is sampled while a
// sandboxed computation runs.
const memoryPollInterval = 50 * time.Millisecond

// Execute runs a computation under resource limits. Panics become Crash
// errors, budget overruns become ResourceLimit errors; the caller treats
// both like a mutation rejection.
func Execute(
	ctx context.Context,
	compute factor.ComputeFunc,
	inputs map[string][]float64,
	params map[string]float64,
	limits ResourceLimits,
) (map[string][]float64, error) {
	timeout := limits.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		outputs map[string][]float64
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &Error{Kind: Crash, Detail: fmt.Sprintf("panic: %v", r)}}
			}
		}()
		outputs, err := compute(inputs, params)
		done <- outcome{outputs: outputs, err: err}
	}()

	var memTicker *time.Ticker
	var memC <-chan time.Time
	if limits.MaxMemoryBytes > 0 {
		memTicker = time.NewTicker(memoryPollInterval)
		defer memTicker.Stop()
		memC = memTicker.C
	}

	for {
		select {
		case result := <-done:
			return result.outputs, result.err
		case <-ctx.Done():
			return nil, &Error{Kind: ResourceLimit, Detail: fmt.Sprintf("timeout after %s", timeout)}
		case <-memC:
			rss, err := residentMemory()
			if err != nil {
				continue // monitoring failure never fails the computation
			}
			if rss > limits.MaxMemoryBytes {
				return nil, &Error{
					Kind:   ResourceLimit,
					Detail: fmt.Sprintf("resident memory %d exceeds limit %d", rss, limits.MaxMemoryBytes),
				}
			}
		}
	}
}

func residentMemory() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
