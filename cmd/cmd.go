package cmd

import (
	"context"
	"errors"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/openclimatefix/solar-consumer/internal/pkg/config"
	"github.com/openclimatefix/solar-consumer/internal/pkg/database"
	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
	"github.com/openclimatefix/solar-consumer/internal/pkg/pipeline"
	"github.com/openclimatefix/solar-consumer/internal/pkg/sink"
	"github.com/openclimatefix/solar-consumer/internal/pkg/source"
)

// ConsumeCommand is the entry point for the consumer CLI command. It collects
// configuration once, selects the adapter and sink, and executes a single
// pipeline run.
func ConsumeCommand(ctx *cli.Context) error {
	cfg := config.Config{
		Country:          ctx.String("country"),
		DataKind:         ctx.String("data-kind"),
		SaveMethod:       ctx.String("save-method"),
		CSVDir:           ctx.String("csv-dir"),
		DatabaseURL:      ctx.String("db-url"),
		Regime:           ctx.String("uk-pvlive-regime"),
		NGSPs:            ctx.Int("uk-pvlive-n-gsps"),
		BackfillHours:    ctx.Int("uk-pvlive-backfill-hours"),
		FailureThreshold: ctx.Float64("failure-threshold"),
		LogLevel:         ctx.String("log-level"),
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	creds, err := config.LoadCredentials()
	if err != nil {
		return err
	}

	req, err := config.Build(cfg, creds)
	if err != nil {
		var cerr *config.ConfigurationError
		if errors.As(err, &cerr) {
			logger.Error("fatal configuration error", zap.Error(cerr))
		}
		return err
	}

	adapter, err := source.ForRequest(req, nil)
	if err != nil {
		return err
	}

	snk, err := buildSink(ctx.Context, req)
	if err != nil {
		return err
	}

	return run(ctx.Context, req, adapter, snk, logger)
}

func newLogger(level string) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.Level = lvl
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func buildSink(ctx context.Context, req model.RunRequest) (sink.Sink, error) {
	if req.SaveMethod == model.SaveCSV {
		return sink.NewCSV(req.CSVDir), nil
	}

	db, err := database.Connect(ctx, req.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return sink.ForSaveMethod(req, db)
}

func run(ctx context.Context, req model.RunRequest, adapter source.Adapter, snk sink.Sink, logger *zap.Logger) error {
	defer func() {
		if err := snk.Close(context.Background()); err != nil {
			logger.Warn("error closing sink", zap.Error(err))
		}
	}()

	runner := pipeline.New(req, adapter, snk)
	summary, err := runner.Run(ctx)
	if err != nil {
		logger.Error("run failed",
			zap.String("state", string(runner.State())),
			zap.Strings("failed_entities", summary.FailedEntities),
			zap.Error(err))
		return err
	}

	logger.Info("run summary",
		zap.String("source", string(summary.Source)),
		zap.String("state", summary.State),
		zap.Int("fetched", summary.Fetched),
		zap.Int("dropped", summary.Dropped),
		zap.Int("written", summary.Report.Written),
		zap.Int("updated", summary.Report.Updated),
		zap.Int("skipped", summary.Report.Skipped),
		zap.Int("failed", summary.Report.Failed))
	return nil
}
