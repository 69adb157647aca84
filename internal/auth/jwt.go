package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ShareClaims bind a token to a single share and the action it permits
// (rating, note, find_me, tip, alerting).
type ShareClaims struct {
	ShareUUID string `json:"share_uuid"`
	Action    string `json:"action"`
	jwt.RegisteredClaims
}

// IssueShareToken mints an HMAC-signed token scoped to one share and
// action.
func IssueShareToken(secret, shareUUID, action string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ShareClaims{
		ShareUUID: shareUUID,
		Action:    action,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyShareToken parses and validates a share token, checking the share
// it is bound to and, when action is non-empty, the permitted action.
func VerifyShareToken(secret, tokenString, shareUUID, action string) (*ShareClaims, error) {
	claims := &ShareClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.ShareUUID != shareUUID {
		return nil, errors.New("token bound to another share")
	}
	if action != "" && claims.Action != action {
		return nil, errors.New("token does not permit this action")
	}
	return claims, nil
}

// Middleware validates a bearer share token against the {uuid} route param
// and injects the claims into the request context.
func Middleware(secret string, shareParam func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := tokenFromHeader(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}
			claims, err := VerifyShareToken(secret, tokenString, shareParam(r), "")
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext retrieves share claims from context.
func ClaimsFromContext(ctx context.Context) (*ShareClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*ShareClaims)
	return claims, ok
}

type claimsKey struct{}

func tokenFromHeader(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
