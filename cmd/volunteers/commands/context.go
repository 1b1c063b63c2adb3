package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/servelist/backend/internal/syncclient"
)

// Options are the persistent flags shared by every command.
type Options struct {
	Server    string
	StatePath string
	Token     string
	Timeout   time.Duration
	Verbose   bool
}

// AppContext holds the dependencies shared across all commands
type AppContext struct {
	Opts   Options
	API    *syncclient.APIClient
	Agent  *syncclient.Agent
	Logger *zap.Logger
	Ctx    context.Context
}

// Init builds the logger, API client and agent from Opts.
func (app *AppContext) Init(ctx context.Context) error {
	var err error
	app.Ctx = ctx

	app.Logger = newLogger(app.Opts.Verbose)

	app.API, err = syncclient.NewAPIClient(syncclient.ClientConfig{
		BaseURL: app.Opts.Server,
		Timeout: app.Opts.Timeout,
	}, app.Logger)
	if err != nil {
		return err
	}
	if app.Opts.Token != "" {
		app.API.SetToken(app.Opts.Token)
	}

	statePath := app.Opts.StatePath
	if statePath == "" {
		statePath = syncclient.DefaultStatePath()
	}
	app.Agent, err = syncclient.NewAgent(app.API, syncclient.NewFileState(statePath), app.Logger)
	if err != nil {
		return fmt.Errorf("failed to load local state from %s: %w", statePath, err)
	}
	app.Logger.Debug("client ready", zap.String("server", app.Opts.Server), zap.String("state", statePath),
		zap.String("client_id", app.Agent.ClientID()))
	return nil
}

// Sync fetches the authoritative state before a one-shot command.
func (app *AppContext) Sync() error {
	if err := app.Agent.Resync(app.Ctx); err != nil {
		return fmt.Errorf("failed to reach %s: %w", app.Opts.Server, err)
	}
	return nil
}

func newLogger(verbose bool) *zap.Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stderr), level)
	return zap.New(core)
}
