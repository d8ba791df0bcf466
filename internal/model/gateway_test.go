// Package model_test tests the model gateway and its backends.
package model_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errMockLoad     = errors.New("mock load error")
	errMockGenerate = errors.New("mock out of memory")
)

// fakeHandle records the parameters of every generation call.
type fakeHandle struct {
	mu          sync.Mutex
	calls       []core.GenerationParams
	prompts     [][]string
	generateErr error
	emptyBatch  bool
	delay       time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
}

func (h *fakeHandle) SampleRate() int {
	return 32000
}

func (h *fakeHandle) Generate(
	ctx context.Context,
	prompts []string,
	params core.GenerationParams,
	progress core.ProgressFunc,
) ([]core.SampleBuffer, error) {
	current := h.active.Add(1)
	defer h.active.Add(-1)

	for {
		seen := h.maxActive.Load()
		if current <= seen || h.maxActive.CompareAndSwap(seen, current) {
			break
		}
	}

	h.mu.Lock()
	h.calls = append(h.calls, params)
	h.prompts = append(h.prompts, prompts)
	h.mu.Unlock()

	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if h.generateErr != nil {
		return nil, h.generateErr
	}

	if h.emptyBatch {
		return nil, nil
	}

	total := params.DurationSeconds * 50
	progress.Report(total, total)

	batch := make([]core.SampleBuffer, len(prompts))
	for i := range batch {
		batch[i] = core.SampleBuffer{make([]float64, params.DurationSeconds*h.SampleRate())}
	}

	return batch, nil
}

// fakeLoader counts constructions and can fail a number of times first.
type fakeLoader struct {
	loads      atomic.Int32
	failFirst  int32
	delay      time.Duration
	handle     *fakeHandle
	modelNames chan string
}

func (l *fakeLoader) Load(ctx context.Context, modelName string) (core.ModelHandle, error) {
	attempt := l.loads.Add(1)

	if l.modelNames != nil {
		l.modelNames <- modelName
	}

	select {
	case <-time.After(l.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if attempt <= l.failFirst {
		return nil, errMockLoad
	}

	return l.handle, nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "model-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newGateway(t *testing.T, loader core.ModelLoader) *model.Gateway {
	t.Helper()

	return model.NewGateway(loader, model.Options{ModelName: "facebook/musicgen-small"}, newTestLogger(t))
}

func TestGateway_HandleIsBuiltOnceUnderConcurrency(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{handle: &fakeHandle{}, delay: 20 * time.Millisecond}
	gateway := newGateway(t, loader)

	const callers = 32

	var waitGroup sync.WaitGroup

	handles := make([]core.ModelHandle, callers)
	errs := make([]error, callers)

	for i := range callers {
		waitGroup.Add(1)

		go func(index int) {
			defer waitGroup.Done()

			handles[index], errs[index] = gateway.Handle(context.Background())
		}(i)
	}

	waitGroup.Wait()

	assert.Equal(t, int32(1), loader.loads.Load())

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Same(t, loader.handle, handles[i])
	}
}

func TestGateway_FailedLoadIsRetried(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{handle: &fakeHandle{}, failFirst: 1}
	gateway := newGateway(t, loader)

	_, err := gateway.Handle(context.Background())
	require.ErrorIs(t, err, core.ErrModelUnavailable)
	require.ErrorIs(t, err, errMockLoad)
	assert.Equal(t, core.KindModelUnavailable, core.ErrorKind(err))

	handle, err := gateway.Handle(context.Background())
	require.NoError(t, err)
	assert.Same(t, loader.handle, handle)

	_, err = gateway.Handle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.loads.Load())
}

func TestGateway_AbortedLoadIsCanceled(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{handle: &fakeHandle{}, delay: time.Second}
	gateway := newGateway(t, loader)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := gateway.Handle(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, core.ErrModelUnavailable)
	assert.Equal(t, core.KindCanceled, core.ErrorKind(err))
}

func TestGateway_WaitForLoadHonorsCancellation(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{handle: &fakeHandle{}, delay: 500 * time.Millisecond}
	gateway := newGateway(t, loader)

	loaded := make(chan error, 1)

	go func() {
		_, err := gateway.Handle(context.Background())
		loaded <- err
	}()

	require.Eventually(t, func() bool { return loader.loads.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := gateway.Handle(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, core.KindCanceled, core.ErrorKind(err))
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	require.NoError(t, <-loaded)
	assert.Equal(t, int32(1), loader.loads.Load())
}

func TestGateway_LoadsConfiguredModel(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{handle: &fakeHandle{}, modelNames: make(chan string, 1)}
	gateway := newGateway(t, loader)

	sampleRate, err := gateway.SampleRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 32000, sampleRate)
	assert.Equal(t, "facebook/musicgen-small", <-loader.modelNames)
}

func TestGateway_SynthesizeRejectsInvalidInputBeforeLoading(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		prompt   string
		duration int
	}{
		{name: "empty prompt", prompt: "", duration: 10},
		{name: "whitespace prompt", prompt: "  \t\n", duration: 10},
		{name: "zero duration", prompt: "ambient pads", duration: 0},
		{name: "duration above limit", prompt: "ambient pads", duration: 31},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			loader := &fakeLoader{handle: &fakeHandle{}}
			gateway := newGateway(t, loader)

			_, err := gateway.Synthesize(context.Background(), testCase.prompt, testCase.duration, nil)
			require.ErrorIs(t, err, core.ErrInvalidInput)
			assert.Equal(t, int32(0), loader.loads.Load(), "the model must not be touched")
		})
	}
}

func TestGateway_SynthesizePassesPerCallParams(t *testing.T) {
	t.Parallel()

	handle := &fakeHandle{}
	gateway := newGateway(t, &fakeLoader{handle: handle})

	var reports []core.Progress

	buffer, err := gateway.Synthesize(
		context.Background(),
		"Lo-fi chill beats with vinyl crackle and soft piano",
		10,
		func(p core.Progress) { reports = append(reports, p) },
	)
	require.NoError(t, err)

	assert.Equal(t, 1, buffer.NumChannels())
	assert.Equal(t, 10*32000, buffer.NumSamples())

	_, err = gateway.Synthesize(context.Background(), "drum and bass", 3, nil)
	require.NoError(t, err)

	require.Len(t, handle.calls, 2)
	assert.Equal(t, core.GenerationParams{UseSampling: true, TopK: 250, DurationSeconds: 10}, handle.calls[0])
	assert.Equal(t, core.GenerationParams{UseSampling: true, TopK: 250, DurationSeconds: 3}, handle.calls[1])
	assert.Equal(t, []string{"Lo-fi chill beats with vinyl crackle and soft piano"}, handle.prompts[0])
	assert.Equal(t, []core.Progress{{Generated: 500, Total: 500}}, reports)
}

func TestGateway_SynthesizeFailures(t *testing.T) {
	t.Parallel()

	gateway := newGateway(t, &fakeLoader{handle: &fakeHandle{generateErr: errMockGenerate}})

	_, err := gateway.Synthesize(context.Background(), "strings", 5, nil)
	require.ErrorIs(t, err, core.ErrGenerationFailure)
	require.ErrorIs(t, err, errMockGenerate)

	gateway = newGateway(t, &fakeLoader{handle: &fakeHandle{emptyBatch: true}})

	_, err = gateway.Synthesize(context.Background(), "strings", 5, nil)
	require.ErrorIs(t, err, core.ErrEmptyResult)
	assert.Equal(t, core.KindGenerationFailure, core.ErrorKind(err))

	gateway = newGateway(t, &fakeLoader{handle: &fakeHandle{}, failFirst: 1})

	_, err = gateway.Synthesize(context.Background(), "strings", 5, nil)
	require.ErrorIs(t, err, core.ErrModelUnavailable)
}

func TestGateway_SynthesizeIsSerialized(t *testing.T) {
	t.Parallel()

	handle := &fakeHandle{delay: 10 * time.Millisecond}
	gateway := newGateway(t, &fakeLoader{handle: handle})

	var waitGroup sync.WaitGroup

	for i := 1; i <= 8; i++ {
		waitGroup.Add(1)

		go func(duration int) {
			defer waitGroup.Done()

			buffer, err := gateway.Synthesize(context.Background(), "piano", duration, nil)
			assert.NoError(t, err)
			assert.Equal(t, duration*32000, buffer.NumSamples())
		}(i)
	}

	waitGroup.Wait()

	assert.Equal(t, int32(1), handle.maxActive.Load())
	assert.Len(t, handle.calls, 8)
}

func TestGateway_SynthesizeHonorsCancellation(t *testing.T) {
	t.Parallel()

	handle := &fakeHandle{delay: time.Second}
	gateway := newGateway(t, &fakeLoader{handle: handle})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gateway.Synthesize(ctx, "piano", 5, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, core.KindCanceled, core.ErrorKind(err))
}
