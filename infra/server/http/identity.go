package httpsrv

import (
	"context"
	"net/http"

	"github.com/webitel/im-mailbox-service/internal/domain/model"
)

type contextKey string

const (
	// UserHeader carries the caller identity resolved by the upstream gateway.
	UserHeader = "X-Webitel-User"

	// UserContextKey is the key used to store/retrieve the caller from context
	UserContextKey contextKey = "user_id"
)

// Identity rejects requests without a caller identity.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// [PRE_AUTH] Authentication happens at the gateway; only the result is trusted here
		userID := model.UserID(r.Header.Get(UserHeader))
		if userID.IsEmpty() {
			WriteJSON(w, http.StatusUnauthorized, ErrorBody{Error: "missing " + UserHeader + " header"})
			return
		}

		// [ENRICHMENT] Inject the identity into the context for downstream handlers
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
	})
}

func WithUser(ctx context.Context, userID model.UserID) context.Context {
	return context.WithValue(ctx, UserContextKey, userID)
}

// UserFromContext is a helper to extract the identity from context safely.
func UserFromContext(ctx context.Context) (model.UserID, bool) {
	userID, ok := ctx.Value(UserContextKey).(model.UserID)
	return userID, ok && !userID.IsEmpty()
}
