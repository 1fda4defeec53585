// Package trial runs the probe loop: pick a vector, record the trial, run the
// handshake, pace, repeat.
package trial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"xdao.co/bbgen/dataset"
	"xdao.co/bbgen/pkcs1"
)

// Corpus is the indexed vector set the driver samples from.
type Corpus interface {
	Len() int
	At(i int) pkcs1.Vector
}

// Recorder persists one row per trial.
type Recorder interface {
	Record(dataset.Row) error
	Close() error
}

// Probe is everything the executor needs for one handshake.
type Probe struct {
	Trial       int
	Correlation [CorrelationSize]byte
	Label       string
	Ciphertext  []byte
	// Premaster is the secret a lenient server would decrypt; used to derive
	// the Finished keys in the full shape.
	Premaster []byte
	Shape     Shape
}

// Executor runs one handshake. It has no error result: connection failures,
// alerts and timeouts are what the probe observes, not driver faults.
type Executor interface {
	Execute(ctx context.Context, p Probe)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, p Probe)

func (f ExecutorFunc) Execute(ctx context.Context, p Probe) { f(ctx, p) }

// Plan is the per-trial selection.
type Plan struct {
	Correlation [CorrelationSize]byte
	Vector      pkcs1.Vector
	Shape       Shape
}

// Summary describes a finished (or interrupted) loop.
type Summary struct {
	Requested   int
	Completed   int
	Truncated   int
	Interrupted bool
	Elapsed     time.Duration
}

var ErrNoCorpus = errors.New("trial: no corpus")

// Driver is the sequential trial loop.
type Driver struct {
	Corpus   Corpus
	Policy   Policy
	Source   *Source
	Recorder Recorder
	Executor Executor

	Iterations int
	// Wait is the pause after each trial.
	Wait time.Duration
	// LegacySampling never picks the last corpus entry; see PickIndex.
	LegacySampling bool

	Logger *zap.Logger
}

// Select draws the plan for one trial.
func (d *Driver) Select() Plan {
	c := d.Source.Correlation()
	i := PickIndex(d.Source.Rand(), d.Corpus.Len(), d.LegacySampling)
	return Plan{Correlation: c, Vector: d.Corpus.At(i), Shape: d.Policy.Decide(d.Source.Rand())}
}

// Run executes up to Iterations trials. The recorder is closed on every
// return path.
//
// A recorder error stops the loop at once and is returned. Cancelling ctx is
// not an error: the trial in flight completes, the loop stops, and
// Summary.Interrupted is set.
func (d *Driver) Run(ctx context.Context) (sum Summary, err error) {
	sum.Requested = d.Iterations
	if d.Recorder == nil {
		return sum, errors.New("trial: no recorder")
	}
	defer func() {
		if cerr := d.Recorder.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if d.Corpus == nil || d.Corpus.Len() == 0 {
		return sum, &pkcs1.CorpusError{Op: "run", Err: ErrNoCorpus}
	}
	if d.Source == nil || d.Executor == nil {
		return sum, errors.New("trial: driver is missing a source or executor")
	}
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	// In-flight handshakes are not cut short by an interrupt; the executor's
	// own timeout bounds them.
	execCtx := context.WithoutCancel(ctx)
	start := time.Now()
	defer func() { sum.Elapsed = time.Since(start) }()

	for i := 0; i < d.Iterations; i++ {
		if ctx.Err() != nil {
			break
		}
		plan := d.Select()

		row := dataset.Row{Correlation: plan.Correlation, Label: plan.Vector.Name, Truncated: plan.Shape.Truncated()}
		if err := d.Recorder.Record(row); err != nil {
			return sum, fmt.Errorf("trial %d: %w", i, err)
		}
		log.Debug("trial",
			zap.Int("trial", i),
			zap.String("vector", plan.Vector.Name),
			zap.Stringer("workflow", plan.Shape),
			zap.String("client_random", dataset.FormatCorrelation(plan.Correlation[:])),
		)

		d.Executor.Execute(execCtx, Probe{
			Trial:       i,
			Correlation: plan.Correlation,
			Label:       plan.Vector.Name,
			Ciphertext:  plan.Vector.Ciphertext,
			Premaster:   plan.Vector.Premaster(),
			Shape:       plan.Shape,
		})
		sum.Completed++
		if plan.Shape.Truncated() {
			sum.Truncated++
		}

		if i == d.Iterations-1 {
			break
		}
		if err := Pace(ctx, d.Wait); err != nil {
			break
		}
	}

	sum.Interrupted = sum.Completed < d.Iterations
	if sum.Interrupted {
		log.Warn("trial loop interrupted", zap.Int("completed", sum.Completed), zap.Int("requested", d.Iterations))
	}
	return sum, nil
}
