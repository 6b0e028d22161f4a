// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rollcall/internal/batch"
	"github.com/xkilldash9x/rollcall/internal/browser"
	"github.com/xkilldash9x/rollcall/internal/observability"
	"github.com/xkilldash9x/rollcall/internal/reporting"
	"github.com/xkilldash9x/rollcall/internal/store"
)

const shutdownTimeout = 30 * time.Second

// Components holds everything a run needs and owns their lifecycle.
type Components struct {
	Provider     browser.Provider
	Audit        *observability.AuditLog
	Store        *store.Store
	Reporter     reporting.Reporter
	Orchestrator *batch.Orchestrator
	DBPool       *pgxpool.Pool

	logger *zap.Logger
}

// Recorders returns the outcome sinks that were configured.
func (c *Components) Recorders() []batch.Recorder {
	var recorders []batch.Recorder
	if c.Store != nil {
		recorders = append(recorders, c.Store)
	}
	if c.Reporter != nil {
		recorders = append(recorders, c.Reporter)
	}
	return recorders
}

// Shutdown releases resources in reverse dependency order. It is safe to call on partially built
// components and more than once.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Flush the report while the outcomes are still in memory.
	if c.Reporter != nil {
		if err := c.Reporter.Close(); err != nil {
			logger.Warn("Error while writing the run report.", zap.Error(err))
		}
		c.Reporter = nil
	}

	// 2. Close the browser. Use a fresh context so this completes even after the run was canceled.
	if c.Provider != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := c.Provider.Close(shutdownCtx); err != nil {
			logger.Warn("Error during browser shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser shut down.")
		}
		cancel()
		c.Provider = nil
	}

	// 3. The audit trail outlives the browser so shutdown problems above still reach it.
	if c.Audit != nil {
		if err := c.Audit.Close(); err != nil {
			logger.Warn("Error closing audit log.", zap.Error(err))
		}
		c.Audit = nil
	}

	// 4. Close the database connection pool.
	if c.DBPool != nil {
		c.DBPool.Close()
		c.DBPool = nil
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All run components shut down.")
}
