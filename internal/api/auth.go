package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/myzymo/realtime/internal/types"
)

// Tokens are issued by the main Myzymo backend; the relay only verifies
// them and trusts the identity claims for the lifetime of the connection.
const (
	tokenCookieKey = "token"
	userIdClaim    = "user-id"
	userNameClaim  = "user-name"
)

type contextKey string

const userKey contextKey = "user"

func WithUser(ctx context.Context, u types.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func UserFromContext(ctx context.Context) (types.User, bool) {
	u, ok := ctx.Value(userKey).(types.User)
	return u, ok
}

func tokenFromRequest(r *http.Request) (string, error) {
	if cookie, err := r.Cookie(tokenCookieKey); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer "), nil
	}

	return "", fmt.Errorf("no token in request")
}

func (s *RelayApp) extractUserFromToken(r *http.Request) (types.User, error) {
	tokenString, err := tokenFromRequest(r)
	if err != nil {
		return types.User{}, err
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return types.User{}, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.User{}, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return types.User{}, fmt.Errorf("invalid user id claim")
	}

	userName, _ := claims[userNameClaim].(string)

	return types.User{Id: userId, Name: userName}, nil
}
