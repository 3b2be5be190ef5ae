package lp

import (
	httpsrv "github.com/webitel/im-mailbox-service/infra/server/http"
	"go.uber.org/fx"
)

var Module = fx.Module("lp-handler",
	fx.Provide(NewLPHandler),
	fx.Invoke(func(s *httpsrv.Server, h *LPHandler) { h.Routes(s) }),
)
