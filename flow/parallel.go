package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
)

// ParallelMode selects how branch failures are aggregated.
type ParallelMode int

const (
	// FailFast cancels the remaining branches on the first failure and
	// returns that failure unchanged.
	FailFast ParallelMode = iota
	// CollectAll runs every branch to completion and reports all failures
	// together under a PARALLEL_FAILED error.
	CollectAll
)

func (m ParallelMode) String() string {
	switch m {
	case FailFast:
		return "fail_fast"
	case CollectAll:
		return "collect_all"
	default:
		return "unknown"
	}
}

// ParallelConfig configures a Parallel operator.
type ParallelConfig[I any] struct {
	Name string
	Mode ParallelMode
	// MaxConcurrency bounds concurrently running branches. 0 means unbounded.
	MaxConcurrency int
	// Split produces one input per branch. When nil every branch receives
	// the same input.
	Split     func(input I, branches int) ([]I, error)
	Logger    *logger.Logger
	Collector observability.Collector
}

// BranchError identifies the branch a CollectAll failure came from.
type BranchError struct {
	Index  int
	Branch string
	Err    error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("branch %d (%s): %v", e.Index, e.Branch, e.Err)
}

func (e *BranchError) Unwrap() error { return e.Err }

// Parallel runs its branches concurrently and returns their outputs in
// branch order. Branches share ec by reference.
type Parallel[I, O any] struct {
	cfg       ParallelConfig[I]
	branches  []Primitive[I, O]
	log       *logger.Logger
	collector observability.Collector
}

// NewParallel builds a Parallel over at least one branch.
func NewParallel[I, O any](cfg ParallelConfig[I], branches ...Primitive[I, O]) (*Parallel[I, O], error) {
	if len(branches) == 0 {
		return nil, apperrors.Configuration("parallel requires at least one branch")
	}
	for i, b := range branches {
		if b == nil {
			return nil, apperrors.Configurationf("parallel branch %d is nil", i)
		}
	}
	if cfg.MaxConcurrency < 0 {
		return nil, apperrors.Configuration("parallel max concurrency must be >= 0")
	}
	if cfg.Name == "" {
		cfg.Name = "parallel"
	}
	return &Parallel[I, O]{
		cfg:       cfg,
		branches:  branches,
		log:       logger.OrNop(cfg.Logger).WithComponent(cfg.Name),
		collector: observability.OrNop(cfg.Collector),
	}, nil
}

func (p *Parallel[I, O]) Name() string { return p.cfg.Name }

// Execute returns once every branch has exited. Branches are expected to
// honor ctx cancellation.
func (p *Parallel[I, O]) Execute(ctx context.Context, input I, ec *ExecutionContext) ([]O, error) {
	n := len(p.branches)
	inputs, err := p.inputs(input)
	if err != nil {
		return nil, err
	}

	ctx, end := p.collector.StartSpan(ctx, "flow.parallel",
		observability.A(observability.AttrPrimitive, p.cfg.Name),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sem chan struct{}
	if p.cfg.MaxConcurrency > 0 {
		sem = make(chan struct{}, p.cfg.MaxConcurrency)
	}

	results := make([]O, n)
	errs := make([]error, n)
	var (
		wg    sync.WaitGroup
		once  sync.Once
		first error
	)

	for i, branch := range p.branches {
		wg.Go(func() {
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-runCtx.Done():
					errs[i] = runCtx.Err()
					return
				}
			}
			if err := runCtx.Err(); err != nil {
				errs[i] = err
				return
			}

			out, err := branch.Execute(runCtx, inputs[i], ec)
			results[i] = out
			errs[i] = err
			if err != nil && p.cfg.Mode == FailFast {
				once.Do(func() {
					first = err
					cancel()
				})
			}
		})
	}
	wg.Wait()

	if p.cfg.Mode == FailFast {
		if first == nil {
			first = errors.Join(errs...)
		}
		if first != nil {
			p.log.WithExecution(ec).Debug("parallel branch failed", logger.Fields(
				logger.FieldError, first.Error(),
			))
			end(first)
			return nil, first
		}
		end(nil)
		return results, nil
	}

	var branchErrs []error
	for i, e := range errs {
		if e != nil {
			branchErrs = append(branchErrs, &BranchError{Index: i, Branch: p.branches[i].Name(), Err: e})
		}
	}
	if len(branchErrs) > 0 {
		err := apperrors.ParallelFailed(len(branchErrs), n, errors.Join(branchErrs...))
		p.log.WithExecution(ec).Warn("parallel branches failed", logger.Fields(
			"failed", len(branchErrs),
			"total", n,
		))
		end(err)
		return results, err
	}
	end(nil)
	return results, nil
}

func (p *Parallel[I, O]) inputs(input I) ([]I, error) {
	n := len(p.branches)
	if p.cfg.Split == nil {
		ins := make([]I, n)
		for i := range ins {
			ins[i] = input
		}
		return ins, nil
	}
	ins, err := p.cfg.Split(input, n)
	if err != nil {
		return nil, err
	}
	if len(ins) != n {
		return nil, apperrors.Configurationf("parallel split produced %d inputs for %d branches", len(ins), n)
	}
	return ins, nil
}
