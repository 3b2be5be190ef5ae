package limiter

import "github.com/webitel/im-mailbox-service/internal/domain/model"

var _ Limiter = Noop{}

// Noop never limits.
type Noop struct{}

func (Noop) TryAcquire(model.UserID) bool { return true }
func (Noop) TraverseLimiters() int        { return 0 }
func (Noop) GetTotalLimiters() int        { return 0 }
func (Noop) Clear()                       {}
