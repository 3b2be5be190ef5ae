package httpsrv

import (
	"go.uber.org/fx"
)

var Module = fx.Module("http-server",
	fx.Provide(New),

	// [LIFECYCLE] Routes are registered by handler modules during construction
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: s.Start,
			OnStop:  s.Stop,
		})
	}),
)
