package trial

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"xdao.co/bbgen/dataset"
	"xdao.co/bbgen/pkcs1"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastCorpus(t *testing.T) *pkcs1.Corpus {
	t.Helper()
	vs, err := pkcs1.GeneratePlain(128, pkcs1.ProfileFast, 0x0303)
	require.NoError(t, err)
	for i := range vs {
		vs[i].Ciphertext = vs[i].Plaintext
	}
	c, err := pkcs1.FromVectors(vs)
	require.NoError(t, err)
	return c
}

type recordingExecutor struct {
	t      *testing.T
	path   string
	probes []Probe
	// linesAtExecute is the file's line count seen when each probe ran.
	linesAtExecute []int
	ctxErrs        []error
	onExecute      func(i int)
}

func (e *recordingExecutor) Execute(ctx context.Context, p Probe) {
	e.probes = append(e.probes, p)
	e.ctxErrs = append(e.ctxErrs, ctx.Err())
	if e.path != "" {
		b, err := os.ReadFile(e.path)
		require.NoError(e.t, err)
		e.linesAtExecute = append(e.linesAtExecute, strings.Count(string(b), "\n"))
	}
	if e.onExecute != nil {
		e.onExecute(len(e.probes) - 1)
	}
}

func newDriver(t *testing.T, corpus Corpus, n int, policy Policy) (*Driver, *recordingExecutor, string) {
	t.Helper()
	dir := t.TempDir()
	rec, err := dataset.Create(dir)
	require.NoError(t, err)
	exec := &recordingExecutor{t: t, path: rec.Path()}
	return &Driver{
		Corpus:     corpus,
		Policy:     policy,
		Source:     testSource(42),
		Recorder:   rec,
		Executor:   exec,
		Iterations: n,
	}, exec, rec.Path()
}

func readRows(t *testing.T, path string) []dataset.Row {
	t.Helper()
	rows, err := dataset.ReadFile(path)
	require.NoError(t, err)
	return rows
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Count(string(b), "\n")
}

func TestRun_FiveTrialsFullShape(t *testing.T) {
	d, exec, path := newDriver(t, fastCorpus(t), 5, Policy{})

	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Completed)
	assert.False(t, sum.Interrupted)
	assert.Equal(t, 0, sum.Truncated)

	assert.Equal(t, 6, countLines(t, path))
	rows := readRows(t, path)
	require.Len(t, rows, 5)

	names := map[string]bool{}
	for _, n := range pkcs1.Names(pkcs1.ProfileFast) {
		names[dataset.SanitizeLabel(n)] = true
	}
	seen := map[[CorrelationSize]byte]bool{}
	for i, r := range rows {
		assert.False(t, r.Truncated)
		assert.True(t, names[r.Label], r.Label)
		assert.False(t, seen[r.Correlation], "correlation reused")
		seen[r.Correlation] = true

		p := exec.probes[i]
		assert.Equal(t, r.Correlation, p.Correlation)
		assert.Equal(t, dataset.SanitizeLabel(p.Label), r.Label)
		assert.Equal(t, ShapeFull, p.Shape)
		assert.Len(t, p.Premaster, pkcs1.PremasterSize)
	}
}

func TestRun_RowIsOnDiskBeforeExecution(t *testing.T) {
	d, exec, _ := newDriver(t, fastCorpus(t), 4, Policy{PreferTruncated: true})
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	// header + one row for the first trial, two rows for the second, ...
	assert.Equal(t, []int{2, 3, 4, 5}, exec.linesAtExecute)
}

func TestRun_ZeroIterations(t *testing.T) {
	d, exec, path := newDriver(t, fastCorpus(t), 0, Policy{})
	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Completed)
	assert.False(t, sum.Interrupted)
	assert.Empty(t, exec.probes)
	assert.Equal(t, 1, countLines(t, path))
}

func TestRun_TruncatedFlagMatchesShape(t *testing.T) {
	d, exec, path := newDriver(t, fastCorpus(t), 400, Policy{PreferTruncated: true, AllowRandom: true})
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	rows := readRows(t, path)
	require.Len(t, rows, 400)
	truncated := 0
	for i, r := range rows {
		assert.Equal(t, exec.probes[i].Shape.Truncated(), r.Truncated)
		if r.Truncated {
			truncated++
		}
	}
	assert.Equal(t, truncated, sum.Truncated)
	assert.InDelta(t, 0.5, float64(truncated)/400, 0.1)
}

func TestRun_TwoClassHundredTrials(t *testing.T) {
	two, err := fastCorpus(t).TwoClass()
	require.NoError(t, err)
	d, _, path := newDriver(t, two, 100, Policy{PreferTruncated: true})

	_, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 101, countLines(t, path))

	stats := dataset.Summarize(readRows(t, path))
	assert.Equal(t, []string{
		dataset.SanitizeLabel(pkcs1.NameCorrect),
		dataset.SanitizeLabel(pkcs1.NameWrongVersion),
	}, stats.LabelNames())
	assert.Equal(t, 100, stats.Truncated)
}

func TestRun_LastVectorReachable(t *testing.T) {
	corpus := fastCorpus(t)
	last := corpus.At(corpus.Len() - 1).Name

	d, _, path := newDriver(t, corpus, 300, Policy{})
	_, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, dataset.Summarize(readRows(t, path)).Labels, dataset.SanitizeLabel(last))

	d, _, path = newDriver(t, corpus, 300, Policy{})
	d.LegacySampling = true
	_, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, dataset.Summarize(readRows(t, path)).Labels, dataset.SanitizeLabel(last))
}

type failingRecorder struct {
	okRows int
	rows   int
	closed int
}

var errWrite = errors.New("write fault")

func (r *failingRecorder) Record(dataset.Row) error {
	if r.rows >= r.okRows {
		return &dataset.RecorderError{Op: "record", Err: errWrite}
	}
	r.rows++
	return nil
}

func (r *failingRecorder) Close() error {
	r.closed++
	return nil
}

func TestRun_RecordFaultStopsBeforeExecution(t *testing.T) {
	rec := &failingRecorder{okRows: 3}
	exec := &recordingExecutor{t: t}
	d := &Driver{
		Corpus:     fastCorpus(t),
		Source:     testSource(7),
		Recorder:   rec,
		Executor:   exec,
		Iterations: 10,
	}

	sum, err := d.Run(context.Background())
	var re *dataset.RecorderError
	require.True(t, errors.As(err, &re), "got %v", err)
	assert.ErrorIs(t, err, errWrite)
	assert.Equal(t, 3, sum.Completed)
	assert.Len(t, exec.probes, 3, "the unrecorded trial must not execute")
	assert.Equal(t, 1, rec.closed)
}

func TestRun_EmptyCorpusClosesRecorder(t *testing.T) {
	rec := &failingRecorder{okRows: 10}
	d := &Driver{Recorder: rec, Source: testSource(1), Executor: &recordingExecutor{t: t}, Iterations: 3}

	_, err := d.Run(context.Background())
	var ce *pkcs1.CorpusError
	require.True(t, errors.As(err, &ce))
	assert.ErrorIs(t, err, ErrNoCorpus)
	assert.Equal(t, 1, rec.closed)
}

func TestRun_InterruptDuringPace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, exec, path := newDriver(t, fastCorpus(t), 50, Policy{})
	d.Wait = time.Hour
	exec.onExecute = func(i int) {
		if i == 0 {
			cancel()
		}
	}

	done := make(chan struct{})
	var sum Summary
	var err error
	go func() {
		defer close(done)
		sum, err = d.Run(ctx)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not honor cancellation")
	}

	require.NoError(t, err)
	assert.True(t, sum.Interrupted)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, 2, countLines(t, path))
	// The trial in flight when the interrupt arrived saw a live context.
	assert.Equal(t, []error{nil}, exec.ctxErrs)
}

func TestRun_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, exec, path := newDriver(t, fastCorpus(t), 5, Policy{})
	sum, err := d.Run(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Interrupted)
	assert.Empty(t, exec.probes)
	assert.Equal(t, 1, countLines(t, path))
}

func TestExecutorFunc(t *testing.T) {
	var got Probe
	ExecutorFunc(func(_ context.Context, p Probe) { got = p }).Execute(context.Background(), Probe{Trial: 9})
	assert.Equal(t, 9, got.Trial)
}
