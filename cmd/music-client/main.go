// main package for the music-client CLI
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"

	"github.com/book-expert/music-service/internal/app"
	"github.com/book-expert/music-service/internal/config"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/pipeline"
)

// Flag names.
const (
	flagPrompt   = "prompt"
	flagDuration = "duration"
	flagIndex    = "index"
	flagConfig   = "config"
	flagOutput   = "output"
	flagLink     = "link"
	flagVerbose  = "verbose"
)

// Flag descriptions.
const (
	flagPromptDesc   = "Text description of the music to generate"
	flagDurationDesc = "Length of the track in seconds"
	flagIndexDesc    = "Asset index; the track is saved as audio_<index>.wav (-1 picks the next one)"
	flagConfigDesc   = "Path to a TOML configuration file (defaults are used when empty)"
	flagOutputDesc   = "Also copy the WAV to this path"
	flagLinkDesc     = "Print an HTML download link for the track"
	flagVerboseDesc  = "Write a verbose log file"
)

// Messages.
const (
	msgGenerated         = "Generated: %s (%s, %d bytes)\n"
	msgCopied            = "Copied to: %s\n"
	msgServiceHealthy    = "Music model server is healthy"
	logClientInitialized = "Music client initialized (backend %s, model %s)"

	logFileNameDefault = "music-client.log"
	logFileNameVerbose = "music-client-verbose.log"
	outputPermissions  = 0o644
	defaultDuration    = 10
)

// Static errors.
var (
	ErrPromptRequired    = errors.New("--prompt must be provided")
	ErrHealthUnsupported = errors.New("health checks require the http backend")
)

// generateFlags holds the parsed flag values of the generate command.
type generateFlags struct {
	prompt   string
	duration int
	index    int
	output   string
	link     bool
}

// rootOptions holds the persistent flags.
type rootOptions struct {
	config  string
	verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		exitCode := 1
		if core.ErrorKind(err) == core.KindInvalidInput {
			exitCode = 2
		}

		stop()
		os.Exit(exitCode)
	}
}

func newRootCmd() *cobra.Command {
	options := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "music-client",
		Short: "Generate music from a text prompt",
		Long: `music-client runs the text-to-music pipeline in-process.

Examples:
  music-client generate --prompt "Lo-fi chill beats with vinyl crackle" --duration 10
  music-client generate --prompt "string quartet" --index 3 --output quartet.wav --link
  music-client health --config music.toml
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&options.config, flagConfig, "", flagConfigDesc)
	rootCmd.PersistentFlags().BoolVarP(&options.verbose, flagVerbose, "v", false, flagVerboseDesc)

	rootCmd.AddCommand(newGenerateCmd(options))
	rootCmd.AddCommand(newHealthCmd(options))

	return rootCmd
}

func newGenerateCmd(options *rootOptions) *cobra.Command {
	flags := &generateFlags{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a track and save it as a WAV asset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := validateGenerateFlags(flags)
			if err != nil {
				return err
			}

			return runGenerate(cmd.Context(), cmd.OutOrStdout(), options, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.prompt, flagPrompt, "p", "", flagPromptDesc)
	cmd.Flags().IntVarP(&flags.duration, flagDuration, "d", defaultDuration, flagDurationDesc)
	cmd.Flags().IntVarP(&flags.index, flagIndex, "i", 0, flagIndexDesc)
	cmd.Flags().StringVarP(&flags.output, flagOutput, "o", "", flagOutputDesc)
	cmd.Flags().BoolVar(&flags.link, flagLink, false, flagLinkDesc)

	return cmd
}

func newHealthCmd(options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the music model server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(options)
			if err != nil {
				return err
			}
			defer log.Close()

			_, client := app.NewLoader(cfg, log)
			if client == nil {
				return ErrHealthUnsupported
			}

			err = client.HealthCheck(cmd.Context())
			if err != nil {
				return fmt.Errorf("music model server is not healthy: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), msgServiceHealthy)

			return nil
		},
	}
}

// validateGenerateFlags checks flags that the pipeline cannot check itself.
func validateGenerateFlags(flags *generateFlags) error {
	if strings.TrimSpace(flags.prompt) == "" {
		return fmt.Errorf("%w: %w", core.ErrInvalidInput, ErrPromptRequired)
	}

	if flags.index < pipeline.AutoIndex {
		return fmt.Errorf("%w: got %d", core.ErrIndexNegative, flags.index)
	}

	return nil
}

func runGenerate(ctx context.Context, out io.Writer, options *rootOptions, flags *generateFlags) error {
	cfg, log, err := setup(options)
	if err != nil {
		return err
	}
	defer log.Close()

	wired, err := app.New(ctx, cfg, nil, log)
	if err != nil {
		return err
	}

	log.Info(logClientInitialized, cfg.Music.Backend, cfg.Music.ModelName)

	result, err := wired.Pipeline.Generate(ctx, pipeline.Request{
		Prompt:          flags.prompt,
		DurationSeconds: flags.duration,
		Index:           flags.index,
	}, func(progress core.Progress) {
		log.Info("Progress: %d/%d", progress.Generated, progress.Total)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", core.UserMessage(err), err)
	}

	fmt.Fprintf(out, msgGenerated, result.Asset.Location, result.Duration, result.Asset.Size)

	if flags.output != "" {
		err = os.WriteFile(flags.output, result.Audio, outputPermissions)
		if err != nil {
			return fmt.Errorf("failed to write output file '%s': %w", flags.output, err)
		}

		fmt.Fprintf(out, msgCopied, flags.output)
	}

	if flags.link {
		fmt.Fprintln(out, result.DownloadLink(""))
	}

	return nil
}

// setup loads config, initializes the logger and ensures directories exist.
func setup(options *rootOptions) (*config.Config, *logger.Logger, error) {
	cfg, err := loadConfig(options.config)
	if err != nil {
		return nil, nil, err
	}

	err = cfg.EnsureDirectories()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create directories: %w", err)
	}

	logFileName := logFileNameDefault
	if options.verbose {
		logFileName = logFileNameVerbose
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, log, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(filepath.Clean(path))
	}

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid default configuration: %w", err)
	}

	return cfg, nil
}
