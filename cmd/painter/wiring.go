package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/fpang/painting-studio/internal/auth"
	"github.com/fpang/painting-studio/internal/chat"
	"github.com/fpang/painting-studio/internal/cli"
	"github.com/fpang/painting-studio/internal/config"
	"github.com/fpang/painting-studio/internal/logging"
	"github.com/fpang/painting-studio/internal/metrics"
	"github.com/fpang/painting-studio/internal/pipeline"
	"github.com/fpang/painting-studio/internal/stages"
	"github.com/fpang/painting-studio/internal/store"
	"github.com/rs/zerolog/log"
)

// app holds everything a run needs. One app serves any number of runs,
// including concurrent batch runs.
type app struct {
	cfg        *config.Config
	gen        pipeline.ImageGenerator
	critic     pipeline.Critic
	specs      []pipeline.StageSpec
	publishers store.Multi
	out        io.Writer
	now        func() time.Time

	dryRun        bool
	imageModel    string
	critiqueModel string
	initDuration  time.Duration
}

// newApp builds the generation ports and output sinks from cfg. Dry runs use
// the synthetic ports and need no API key.
func newApp(ctx context.Context, cfg *config.Config, dryRun, validateKey bool, out io.Writer) (*app, error) {
	start := time.Now()
	a := &app{
		cfg:    cfg,
		specs:  stages.Default(cfg.Pipeline.PassThreshold),
		out:    out,
		now:    time.Now,
		dryRun: dryRun,
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg == nil {
			loaded, err := loadAWSConfig(ctx, cfg)
			if err != nil {
				return aws.Config{}, err
			}
			awsCfg = &loaded
		}
		return *awsCfg, nil
	}

	if dryRun {
		a.gen = chat.SyntheticGenerator{}
		a.critic = chat.SyntheticCritic{}
		a.imageModel, a.critiqueModel = "synthetic", "synthetic"
		metrics.SetDefaultDimension("Mode", "dry-run")
	} else {
		opts := auth.Options{
			ConfigKey:    cfg.Gemini.APIKey,
			SSMParameter: cfg.Gemini.SSMParameter,
		}
		if cfg.Gemini.SSMParameter != "" {
			awsConf, err := loadAWS()
			if err != nil {
				return nil, err
			}
			opts.SSM = ssm.NewFromConfig(awsConf)
		}

		critiqueModel := chat.CritiqueModelName(cfg.Gemini.CritiqueModel)
		client, apiKey := cli.InitGeminiClient(ctx, opts, critiqueModel, !validateKey)

		imageOpts := []chat.ImageClientOption{
			chat.WithImageModel(chat.ImageModelName(cfg.Gemini.ImageModel)),
			chat.WithRequestsPerMinute(cfg.Gemini.RequestsPerMinute),
		}
		if cfg.Gemini.BaseURL != "" {
			imageOpts = append(imageOpts, chat.WithBaseURL(cfg.Gemini.BaseURL))
		}
		imageClient := chat.NewGeminiImageClient(apiKey, imageOpts...)
		critic := chat.NewGeminiCritic(client, critiqueModel, cfg.Gemini.RequestsPerMinute)

		a.gen, a.critic = imageClient, critic
		a.imageModel, a.critiqueModel = imageClient.Model(), critic.Model()
		metrics.SetDefaultDimension("Mode", "gemini")
	}

	if cfg.Output.S3Bucket != "" || cfg.Output.DynamoDBTable != "" {
		awsConf, err := loadAWS()
		if err != nil {
			return nil, err
		}
		// S3 first so the index records the uploaded location.
		if cfg.Output.S3Bucket != "" {
			a.publishers = append(a.publishers,
				store.NewS3Store(s3.NewFromConfig(awsConf), cfg.Output.S3Bucket, cfg.Output.S3Prefix, cfg.Output.Compress))
		}
		if cfg.Output.DynamoDBTable != "" {
			a.publishers = append(a.publishers,
				store.NewDynamoIndex(dynamodb.NewFromConfig(awsConf), cfg.Output.DynamoDBTable, cfg.IndexTTL()))
		}
	}

	a.initDuration = time.Since(start)
	return a, nil
}

// logStartup emits the startup banner for command.
func (a *app) logStartup(command string) {
	pc := a.cfg.PipelineConfig()
	logging.NewStartupLogger(command).
		Build(version, commitHash, buildTime).
		Model("image", a.imageModel).
		Model("critique", a.critiqueModel).
		Resource("output_dir", a.cfg.Output.Dir).
		Resource("s3_bucket", a.cfg.Output.S3Bucket).
		Resource("dynamodb_table", a.cfg.Output.DynamoDBTable).
		Feature("dry_run", a.dryRun).
		Feature("grid", a.cfg.Grid.Enabled).
		Feature("keep_attempts", a.cfg.Output.KeepAttempts).
		Feature("compress", a.cfg.Output.Compress).
		Config("max_attempts", strconv.Itoa(pc.MaxAttempts)).
		Config("pass_threshold", strconv.FormatFloat(a.cfg.Pipeline.PassThreshold, 'f', -1, 64)).
		Config("stages", strconv.Itoa(len(a.specs))).
		Config("run_timeout", a.cfg.RunTimeout().String()).
		InitDuration(a.initDuration).
		Log()
	log.Debug().Strs("stages", stages.Names()).Msg("Stage series")
}

// remoteIndex returns a DynamoDB index for lookups by run ID.
func remoteIndex(ctx context.Context, cfg *config.Config) (*store.DynamoIndex, error) {
	if cfg.Output.DynamoDBTable == "" {
		return nil, fmt.Errorf("output.dynamodb_table is not configured")
	}
	awsConf, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return store.NewDynamoIndex(dynamodb.NewFromConfig(awsConf), cfg.Output.DynamoDBTable, cfg.IndexTTL()), nil
}

// remoteStore returns an S3Store for reading published results.
func remoteStore(ctx context.Context, cfg *config.Config, bucket string) (*store.S3Store, error) {
	awsConf, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return store.NewS3Store(s3.NewFromConfig(awsConf), bucket, "", false), nil
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Output.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Output.Region))
	}
	awsConf, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return awsConf, nil
}
