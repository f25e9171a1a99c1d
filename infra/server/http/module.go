package httpsrv

import (
	"context"
	"log/slog"
	"net/http"

	"go.uber.org/fx"

	"github.com/kimiroo/ice-server/config"
)

var Module = fx.Module("http-server",
	fx.Provide(func(cfg *config.Config, handler http.Handler, logger *slog.Logger) *Server {
		return NewServer(cfg.Server.Addr(), handler, logger)
	}),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return s.Start() },
			OnStop:  s.Stop,
		})
	}),
)
