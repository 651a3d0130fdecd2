package rpc

import (
	"errors"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
)

// requireScope validates an HMAC-signed JWT bearer token and checks that its
// scope claim grants the required scope. Admin methods stay disabled until a
// secret is configured.
func (s *Server) requireScope(r *http.Request, required string) *Error {
	if len(s.cfg.JWTSecret) == 0 {
		return &Error{Code: codeUnauthorized, Message: "admin methods not configured"}
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return &Error{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	claims, err := s.parseJWT(tokenString)
	if err != nil {
		s.log.Warn("admin token rejected", "err", err)
		return &Error{Code: codeUnauthorized, Message: "invalid token"}
	}
	if !hasScope(claims, required) {
		return &Error{Code: codeUnauthorized, Message: "insufficient scope", Data: required}
	}
	return nil
}

func (s *Server) parseJWT(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.cfg.JWTSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

// hasScope accepts the scope claim either as a space-separated string or a
// string list.
func hasScope(claims jwt.MapClaims, required string) bool {
	raw, ok := claims["scope"]
	if !ok {
		return false
	}
	switch value := raw.(type) {
	case string:
		for _, scope := range strings.Fields(value) {
			if scope == required {
				return true
			}
		}
	case []interface{}:
		for _, entry := range value {
			if scope, ok := entry.(string); ok && scope == required {
				return true
			}
		}
	}
	return false
}
