package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/music-service/internal/audio"
	"github.com/book-expert/music-service/internal/core"
)

// ErrBinaryPathEmpty indicates that no musicgen command was configured.
var ErrBinaryPathEmpty = errors.New("musicgen binary path cannot be empty")

// ExecLoader resolves a local musicgen command that generates one clip per run.
type ExecLoader struct {
	binaryPath string
	sampleRate int
	log        *logger.Logger
}

// NewExecLoader creates a loader for the musicgen command at binaryPath.
func NewExecLoader(binaryPath string, sampleRate int, log *logger.Logger) *ExecLoader {
	return &ExecLoader{
		binaryPath: binaryPath,
		sampleRate: sampleRate,
		log:        log,
	}
}

// Load checks that the command resolves and returns a handle bound to modelName.
func (l *ExecLoader) Load(_ context.Context, modelName string) (core.ModelHandle, error) {
	if l.binaryPath == "" {
		return nil, ErrBinaryPathEmpty
	}

	resolved, err := exec.LookPath(l.binaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve musicgen binary '%s': %w", l.binaryPath, err)
	}

	sampleRate := l.sampleRate
	if sampleRate == 0 {
		sampleRate = audio.DefaultSampleRate
	}

	return &ExecHandle{
		binaryPath: resolved,
		modelName:  modelName,
		sampleRate: sampleRate,
		log:        l.log,
	}, nil
}

// ExecHandle runs the musicgen command once per prompt.
type ExecHandle struct {
	binaryPath string
	modelName  string
	sampleRate int
	log        *logger.Logger
}

// SampleRate returns the rate the command writes at.
func (h *ExecHandle) SampleRate() int {
	return h.sampleRate
}

// Generate runs the command for each prompt and decodes its WAV output.
func (h *ExecHandle) Generate(
	ctx context.Context,
	prompts []string,
	params core.GenerationParams,
	progress core.ProgressFunc,
) ([]core.SampleBuffer, error) {
	batch := make([]core.SampleBuffer, 0, len(prompts))

	for i, prompt := range prompts {
		progress.Report(i, len(prompts))

		buffer, err := h.generateOne(ctx, prompt, params)
		if err != nil {
			return nil, err
		}

		batch = append(batch, buffer)
	}

	progress.Report(len(prompts), len(prompts))

	return batch, nil
}

func (h *ExecHandle) generateOne(ctx context.Context, prompt string, params core.GenerationParams) (core.SampleBuffer, error) {
	outputPath := filepath.Join(os.TempDir(), "musicgen-"+uuid.NewString()+audio.FileExtensionWAV)

	defer func() {
		removeErr := os.Remove(outputPath)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			h.log.Warn("Failed to remove temp file '%s': %v", outputPath, removeErr)
		}
	}()

	// #nosec G204 -- the binary path comes from configuration, the prompt is a single argument
	cmd := exec.CommandContext(ctx, h.binaryPath, BuildExecArgs(h.modelName, prompt, params, outputPath)...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("musicgen execution failed: %w - output: %s", err, string(output))
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read musicgen output: %w", err)
	}

	buffer, sampleRate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	if sampleRate != h.sampleRate {
		return nil, fmt.Errorf(errFmtSampleRateMismatch, sampleRate, h.sampleRate)
	}

	return buffer, nil
}

// BuildExecArgs returns the musicgen command line for one generation.
func BuildExecArgs(modelName, prompt string, params core.GenerationParams, outputPath string) []string {
	return []string{
		"--model", modelName,
		"--description", prompt,
		"--duration", strconv.Itoa(params.DurationSeconds),
		"--top_k", strconv.Itoa(params.TopK),
		"--use_sampling=" + strconv.FormatBool(params.UseSampling),
		"--output", outputPath,
	}
}
