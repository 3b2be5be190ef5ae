package ws

import (
	httpsrv "github.com/webitel/im-mailbox-service/infra/server/http"
	"go.uber.org/fx"
)

var Module = fx.Module("ws-handler",
	fx.Provide(NewWSHandler),
	fx.Invoke(func(s *httpsrv.Server, h *WSHandler) { h.Routes(s) }),
)
