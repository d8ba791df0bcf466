// Package app assembles the music pipeline from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/music-service/internal/assetstore"
	"github.com/book-expert/music-service/internal/config"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/model"
	"github.com/book-expert/music-service/internal/objectstore"
	"github.com/book-expert/music-service/internal/pipeline"
)

const defaultS3Region = "us-east-1"

// ErrNATSConnectionRequired indicates NATS storage was selected without a connection.
var ErrNATSConnectionRequired = errors.New("nats storage requires a nats connection")

// App holds the wired components of the service.
type App struct {
	Gateway  *model.Gateway
	Store    core.AssetStore
	Pipeline *pipeline.Pipeline
	Client   *model.HTTPClient
}

// New builds the model gateway, asset store and pipeline. natsConnection may be nil
// unless the NATS storage backend is configured.
func New(ctx context.Context, cfg *config.Config, natsConnection *nats.Conn, log *logger.Logger) (*App, error) {
	loader, client := NewLoader(cfg, log)

	gateway := model.NewGateway(loader, model.Options{
		ModelName: cfg.Music.ModelName,
		TopK:      cfg.Music.TopK,
		Limits:    cfg.DurationLimits(),
	}, log)

	store, err := NewAssetStore(ctx, cfg, natsConnection, log)
	if err != nil {
		return nil, err
	}

	err = store.EnsureRoot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare asset storage: %w", err)
	}

	musicPipeline := pipeline.New(gateway, store, pipeline.Options{
		Limits:     cfg.DurationLimits(),
		SampleRate: cfg.Music.SampleRate,
	}, log)

	return &App{
		Gateway:  gateway,
		Store:    store,
		Pipeline: musicPipeline,
		Client:   client,
	}, nil
}

// NewLoader returns the configured model loader. The HTTP client is nil for the exec backend.
func NewLoader(cfg *config.Config, log *logger.Logger) (core.ModelLoader, *model.HTTPClient) {
	if cfg.Music.Backend == config.BackendExec {
		return model.NewExecLoader(cfg.Music.BinaryPath, cfg.Music.SampleRate, log), nil
	}

	client := model.NewHTTPClient(cfg.Music.ServiceURL, cfg.Timeout(), cfg.PollInterval())

	return model.NewHTTPLoader(client), client
}

// NewAssetStore returns the configured asset store.
func NewAssetStore(
	ctx context.Context,
	cfg *config.Config,
	natsConnection *nats.Conn,
	log *logger.Logger,
) (core.AssetStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageNATS:
		if natsConnection == nil {
			return nil, ErrNATSConnectionRequired
		}

		jetstreamContext, err := natsConnection.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}

		store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
		if err != nil {
			return nil, err
		}

		return assetstore.NewObjectAssetStore(store, cfg.Music.SampleRate, log), nil
	case config.StorageS3:
		client, err := NewS3Client(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}

		store := objectstore.NewS3(client, cfg.Storage.S3Bucket, cfg.Storage.S3Prefix, cfg.Storage.S3Region)

		return assetstore.NewObjectAssetStore(store, cfg.Music.SampleRate, log), nil
	default:
		return assetstore.NewFileStore(cfg.Storage.AudioDir, cfg.Music.SampleRate, log), nil
	}
}

// NewS3Client builds an S3 client. Static keys from the config take precedence;
// otherwise the SDK default chain (environment, shared files, instance roles)
// supplies credentials. A custom endpoint switches to path-style addressing for
// S3-compatible stores.
func NewS3Client(ctx context.Context, storage config.StorageConfig) (*s3.Client, error) {
	var loadOptions []func(*awsconfig.LoadOptions) error

	if storage.S3Region != "" {
		loadOptions = append(loadOptions, awsconfig.WithRegion(storage.S3Region))
	}

	if storage.S3AccessKeyID != "" {
		accessKeyID := storage.S3AccessKeyID
		secretAccessKey := storage.S3SecretAccessKey

		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKeyID,
					SecretAccessKey: secretAccessKey,
					Source:          "music-service config",
				}, nil
			}),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws configuration: %w", err)
	}

	if awsConfig.Region == "" {
		awsConfig.Region = defaultS3Region
	}

	return s3.NewFromConfig(awsConfig, func(options *s3.Options) {
		if storage.S3Endpoint != "" {
			options.BaseEndpoint = aws.String(storage.S3Endpoint)
			options.UsePathStyle = true
		}
	}), nil
}
