// Package core_test tests the error taxonomy and input validation.
package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/book-expert/music-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePrompt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prompt  string
		wantErr bool
	}{
		{name: "regular prompt", prompt: "Lo-fi chill beats with vinyl crackle and soft piano", wantErr: false},
		{name: "empty prompt", prompt: "", wantErr: true},
		{name: "spaces only", prompt: "    ", wantErr: true},
		{name: "mixed whitespace", prompt: "\t\n \r\n", wantErr: true},
		{name: "padded prompt", prompt: "  jazz  ", wantErr: false},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := core.ValidatePrompt(testCase.prompt)
			if !testCase.wantErr {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, core.ErrPromptEmpty)
			require.ErrorIs(t, err, core.ErrInvalidInput)
		})
	}
}

func TestDurationLimits_Check(t *testing.T) {
	t.Parallel()

	limits := core.DefaultDurationLimits()

	for _, seconds := range []int{1, 10, 30} {
		require.NoError(t, limits.Check(seconds), "duration %d", seconds)
	}

	for _, seconds := range []int{-5, 0, 31, 600} {
		err := limits.Check(seconds)
		require.ErrorIs(t, err, core.ErrDurationOutOfRange, "duration %d", seconds)
		require.ErrorIs(t, err, core.ErrInvalidInput, "duration %d", seconds)
	}
}

func TestValidateBuffer(t *testing.T) {
	t.Parallel()

	require.NoError(t, core.ValidateBuffer(core.SampleBuffer{{0.1, 0.2}}))
	require.NoError(t, core.ValidateBuffer(core.SampleBuffer{{0.1, 0.2}, {0.3, 0.4}}))

	require.ErrorIs(t, core.ValidateBuffer(nil), core.ErrInvalidBuffer)
	require.ErrorIs(t, core.ValidateBuffer(core.SampleBuffer{{}}), core.ErrInvalidBuffer)
	require.ErrorIs(t, core.ValidateBuffer(core.SampleBuffer{{0.1}, {0.2}, {0.3}}), core.ErrInvalidBuffer)
	require.ErrorIs(t, core.ValidateBuffer(core.SampleBuffer{{0.1, 0.2}, {0.3}}), core.ErrInvalidBuffer)
}

func TestErrorKindAndUserMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		wantKind string
	}{
		{err: nil, wantKind: ""},
		{err: core.ErrPromptEmpty, wantKind: core.KindInvalidInput},
		{err: fmt.Errorf("load: %w", core.ErrModelUnavailable), wantKind: core.KindModelUnavailable},
		{err: core.ErrEmptyResult, wantKind: core.KindGenerationFailure},
		{err: fmt.Errorf("%w: disk full", core.ErrStorageUnavailable), wantKind: core.KindStorageUnavailable},
		{err: context.DeadlineExceeded, wantKind: core.KindCanceled},
		{err: errors.New("boom"), wantKind: core.KindInternal},
	}

	messages := make(map[string]string)

	for _, testCase := range tests {
		assert.Equal(t, testCase.wantKind, core.ErrorKind(testCase.err))

		if testCase.err != nil {
			message := core.UserMessage(testCase.err)
			assert.NotEmpty(t, message)

			messages[testCase.wantKind] = message
		}
	}

	assert.Len(t, messages, 6, "every kind should have its own message")
	assert.Contains(t, messages[core.KindInvalidInput], "prompt cannot be empty")
	assert.Empty(t, core.UserMessage(nil))
}

func TestProgressFunc_Report(t *testing.T) {
	t.Parallel()

	var nilObserver core.ProgressFunc
	nilObserver.Report(1, 2)

	var got []core.Progress

	observer := core.ProgressFunc(func(p core.Progress) { got = append(got, p) })
	observer.Report(5, 500)
	observer.Report(500, 500)

	require.Equal(t, []core.Progress{{Generated: 5, Total: 500}, {Generated: 500, Total: 500}}, got)
}
