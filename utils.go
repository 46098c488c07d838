// util.go
package secretariat

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// -----------------------------
// Context helpers para la sesión
// -----------------------------

type ctxKeyUserID struct{}
type ctxKeySession struct{}

// Session is the authenticated caller of a request.
type Session struct {
	UserID int64
	Role   Role
	Token  string
}

func SetUserContext(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ctxKeyUserID{}, userID)
}

func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	uid, ok := ctx.Value(ctxKeyUserID{}).(int64)
	return uid, ok
}

func SetSessionContext(ctx context.Context, s Session) context.Context {
	ctx = SetUserContext(ctx, s.UserID)
	return context.WithValue(ctx, ctxKeySession{}, s)
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKeySession{}).(Session)
	return s, ok
}

// -----------------------------
// Parse helpers
// -----------------------------

// parseID convierte string a int64 con fallback 0
func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// parseIndex reads a list position; -1 when it is not a number.
func parseIndex(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return i
}

// parseSince reads ?since= in RFC3339. Default: the last 24 hours.
func parseSince(r *http.Request) time.Time {
	if s := r.URL.Query().Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return time.Now().Add(-24 * time.Hour)
}
