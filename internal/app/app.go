// Package app wires the application together: logger, configuration loader,
// module registry and the training runner.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-git/go-billy/v5"

	"github.com/vk/perceptgo/internal/config"
	"github.com/vk/perceptgo/internal/ctxlog"
	"github.com/vk/perceptgo/internal/hcladapter"
	"github.com/vk/perceptgo/internal/registry"
	"github.com/vk/perceptgo/internal/runner"
)

// App encapsulates the application's dependencies and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	reg    *registry.Registry
	root   config.Node
	fsys   billy.Filesystem
	cfg    *Config
}

// New constructs a fully initialized App: it configures the logger, loads
// and resolves every configuration layer, and registers and seals the module
// set. Callers may pass their own modules; otherwise the built-in set is
// used.
func New(outW io.Writer, cfg *Config, fsys billy.Filesystem, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	var loader config.Loader
	if cfg.Format == "hcl" {
		loader = hcladapter.New(fsys)
	} else {
		loader = config.NewYAMLLoader(fsys)
	}

	refs := append([]string{cfg.ConfigPath}, cfg.Overrides...)
	root, err := config.LoadLayers(ctx, loader, refs...)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger.Debug("Configuration loaded and resolved.", "layers", len(refs))

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		if err := mod.Register(reg); err != nil {
			return nil, fmt.Errorf("registering modules: %w", err)
		}
	}
	reg.Seal()
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	logger.Debug("All modules registered.", "count", len(modules))

	return &App{
		outW:   outW,
		logger: logger,
		reg:    reg,
		root:   root,
		fsys:   fsys,
		cfg:    cfg,
	}, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.reg
}

// Run assembles the training run, fresh or resumed, and drives it to
// completion.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "resume", a.cfg.Resume)

	var (
		r   *runner.Run
		err error
	)
	if a.cfg.Resume {
		r, err = runner.Resume(ctx, a.reg, a.root, a.fsys, a.cfg.Checkpoint)
	} else {
		r, err = runner.New(ctx, a.reg, a.root, a.fsys)
	}
	if err != nil {
		return fmt.Errorf("assembling run: %w", err)
	}
	return r.Run(ctx)
}
