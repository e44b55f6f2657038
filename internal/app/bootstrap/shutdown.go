// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown closes live connections, lets in-flight fan-out finish, then
// tears down the DB connection.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if svc := deps.Services; svc != nil {
		if svc.Hub != nil {
			logger.Info("closing realtime connections", zap.Int("connections", svc.Hub.ConnCount()))
			svc.Hub.CloseAll()
		}
		if svc.Pipeline != nil {
			done := make(chan struct{})
			go func() {
				svc.Pipeline.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				logger.Warn("shutdown: fan-out still running", zap.Error(ctx.Err()))
			}
		}
		if svc.Limiter != nil {
			svc.Limiter.Stop()
		}
	}

	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			return err
		}
	}
	return nil
}
