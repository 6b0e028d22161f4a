// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rollcall/internal/batch"
	"github.com/xkilldash9x/rollcall/internal/browser"
	"github.com/xkilldash9x/rollcall/internal/browser/cdp"
	"github.com/xkilldash9x/rollcall/internal/config"
	"github.com/xkilldash9x/rollcall/internal/observability"
	"github.com/xkilldash9x/rollcall/internal/reporting"
)

// ComponentFactory builds the components for one run. It is the seam the run command is tested through.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, source string, logger *zap.Logger) (*Components, error)
}

// ProviderFunc creates the browser provider for a run.
type ProviderFunc func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) browser.Provider

type concreteFactory struct {
	newProvider ProviderFunc
}

// NewComponentFactory creates the production factory, which drives Chrome.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{newProvider: newChromeProvider}
}

// NewComponentFactoryWithProvider creates a factory that takes pages from fn instead of Chrome.
func NewComponentFactoryWithProvider(fn ProviderFunc) ComponentFactory {
	return &concreteFactory{newProvider: fn}
}

func newChromeProvider(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) browser.Provider {
	return cdp.NewManager(ctx, cfg, logger)
}

// Create wires the audit trail, optional recorders, the browser provider and the orchestrator.
// source names the credential origin for the audit banner.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, source string, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = observability.GetLogger()
	}
	components := &Components{logger: logger}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Audit trail
	audit, err := observability.OpenAuditLog(cfg.Audit.File)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Audit = audit
	logger.Debug("Audit log opened.", zap.String("path", audit.Path()))

	// 2. Optional outcome store
	if cfg.Database.URL != "" {
		s, pool, err := InitializeStore(ctx, cfg.Database, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize outcome store: %w", err)
			return nil, initializationErr
		}
		components.Store = s
		components.DBPool = pool
	} else {
		logger.Debug("No database configured; outcomes are not persisted.")
	}

	// 3. Optional JSON report
	if cfg.Report.Path != "" {
		r, err := reporting.New(cfg.Report.Path, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create run report: %w", err)
			return nil, initializationErr
		}
		components.Reporter = r
	}

	// 4. Browser provider. Pages are launched lazily by the orchestrator.
	components.Provider = f.newProvider(ctx, cfg.Browser, logger)

	// 5. Orchestrator
	components.Orchestrator = batch.NewOrchestrator(components.Provider, cfg, audit, logger,
		batch.WithRecorders(components.Recorders()...),
		batch.WithSource(source),
	)

	logger.Info("All run components initialized successfully.")
	return components, nil
}
