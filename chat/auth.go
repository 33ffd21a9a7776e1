package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator validates bearer tokens out-of-band of the websocket
// handshake. Tokens are HS256-signed JWTs whose subject is the account id.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// TokenFromUpgrade extracts the bearer token from the upgrade request. The
// Authorization header takes precedence; the token query parameter is the
// fallback for clients that cannot set headers.
func TokenFromUpgrade(authHeader, queryToken string) (string, error) {
	if authHeader == "" {
		if queryToken != "" {
			return queryToken, nil
		}
		return "", Error{Kind: AuthError, Message: "Заголовок авторизации отсутствует"}
	}
	parts := strings.Fields(authHeader)
	if len(parts) != 2 {
		return "", Error{Kind: AuthError, Message: "Недопустимый формат заголовка авторизации"}
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return "", Error{Kind: AuthError, Message: "Недопустимая схема аутентификации"}
	}
	return parts[1], nil
}

// Verify checks the token signature and expiry and resolves the subject to an
// account id. Tokens without an expiry are refused.
func (a *Authenticator) Verify(token string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return 0, Error{Kind: AuthError, Message: fmt.Sprintf("Недопустимый токен: %v", err)}
	}
	if !parsed.Valid {
		return 0, Error{Kind: AuthError, Message: "Недопустимый токен"}
	}
	if claims.ExpiresAt == nil {
		return 0, Error{Kind: AuthError, Message: "Срок действия токена не указан"}
	}
	if time.Now().After(claims.ExpiresAt.Time) {
		return 0, Error{Kind: AuthError, Message: "Срок действия токена истек"}
	}
	accountID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, Error{Kind: AuthError, Message: "Недопустимый субъект токена"}
	}
	return accountID, nil
}
