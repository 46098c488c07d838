// auth.go
package secretariat

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ======================
// JWT
// ======================

// Claims are issued by the appointment backend and shared with this service.
type Claims struct {
	UserID int64 `json:"user_id"`
	Role   Role  `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates bearer tokens with the shared signing secret.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// GenerateToken signs a token for userID, used by tests and local tooling.
func (a *Authenticator) GenerateToken(userID int64, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ParseToken validates tokenStr and returns its claims.
func (a *Authenticator) ParseToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid or expired token")
	}
	if claims.UserID == 0 {
		return nil, errors.New("token carries no user id")
	}
	if claims.Role == "" {
		claims.Role = RoleUser
	}
	return claims, nil
}

// ======================
// Audit token
// ======================

// HashAuditToken returns the bcrypt hash stored in the config.
func HashAuditToken(token string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckAuditToken verifies a presented token against its hash.
func CheckAuditToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// ======================
// Middleware
// ======================

// Middleware validates Authorization: Bearer <token> and stores the Session.
// The raw token is kept so backend calls run as the same user.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, err := extractTokenFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Missing Authorization header")
			return
		}
		claims, err := a.ParseToken(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		ctx := SetSessionContext(r.Context(), Session{UserID: claims.UserID, Role: claims.Role, Token: tokenStr})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extrae token de Authorization o query param
func extractTokenFromRequest(r *http.Request) (string, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1], nil
		}
		return "", errors.New("invalid authorization format")
	}
	if q := r.URL.Query().Get("token"); q != "" {
		return q, nil
	}
	return "", errors.New("no token provided")
}
