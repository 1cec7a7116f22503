package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	usecase "github.com/tigerroll/chunkbatch/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/metrics"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

type handlerParams struct {
	fx.In
	Operator   usecase.JobOperator
	Explorer   usecase.JobExplorer
	Registry   usecase.JobRegistry
	Prometheus *metrics.PrometheusRecorder `optional:"true"`
}

// NewHandlerFromParams builds the Handler, serving /metrics when the Prometheus
// recorder is available.
func NewHandlerFromParams(p handlerParams) *Handler {
	var m http.Handler
	if p.Prometheus != nil {
		m = p.Prometheus.Handler()
	}
	return NewHandler(p.Operator, p.Explorer, p.Registry, m)
}

// registerServer listens on the configured address while the application runs.
func registerServer(lc fx.Lifecycle, cfg *config.Config, h *Handler) {
	sc := cfg.Chunkbatch.Server
	if !sc.Enabled {
		logger.Debugf("HTTP server disabled.")
		return
	}
	srv := &http.Server{Addr: sc.Addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", sc.Addr)
			if err != nil {
				return exception.NewBatchError(exception.KindConfiguration, module, "cannot listen on "+sc.Addr, err)
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("HTTP server stopped: %v", err)
				}
			}()
			logger.Infof("HTTP server listening on %s.", ln.Addr())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// Module serves the batch API when chunkbatch.server.enabled is set.
var Module = fx.Options(
	fx.Provide(NewHandlerFromParams),
	fx.Invoke(registerServer),
)
