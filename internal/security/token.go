package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"chat-relay/internal/domain"
	"chat-relay/internal/observability"
)

// MaxTokenSize bounds the encoded token accepted from a client.
const MaxTokenSize = 4096

// AccessTokenCookie is the cookie checked when no query or header token is present.
const AccessTokenCookie = "access_token"

var (
	ErrTokenTooLarge  = errors.New("token exceeds maximum size")
	ErrInvalidSubject = errors.New("token carries no valid user_id")
)

// Claims is the payload issued by the account service.
type Claims struct {
	UserID any `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenValidator resolves bearer tokens to principals.
type TokenValidator struct {
	secret     []byte
	principals domain.PrincipalRepository
	parser     *jwt.Parser
}

// NewTokenValidator creates a validator for HS256 tokens signed with secret.
// Issuer and audience are checked only when non-empty.
func NewTokenValidator(secret string, issuer, audience string, principals domain.PrincipalRepository) *TokenValidator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithJSONNumber(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	return &TokenValidator{
		secret:     []byte(secret),
		principals: principals,
		parser:     jwt.NewParser(opts...),
	}
}

// Validate never fails loudly: every problem with the token, including an unknown
// principal or a store error, yields domain.Anonymous.
func (v *TokenValidator) Validate(ctx context.Context, token string) (p domain.Principal) {
	logger := observability.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("token validation panicked", slog.Any("panic", r))
			p = domain.Anonymous
		}
	}()

	userID, err := v.subject(token)
	if err != nil {
		logger.Debug("rejected token", slog.String("error", err.Error()))
		return domain.Anonymous
	}

	principal, err := v.principals.GetByID(ctx, userID)
	if err != nil || principal == nil {
		if err == nil {
			err = domain.ErrPrincipalNotFound
		}
		logger.Debug("token principal lookup failed",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return domain.Anonymous
	}

	return *principal
}

func (v *TokenValidator) subject(token string) (int64, error) {
	if token == "" {
		return 0, jwt.ErrTokenMalformed
	}
	if len(token) > MaxTokenSize {
		return 0, ErrTokenTooLarge
	}

	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return 0, err
	}

	return parseUserID(claims.UserID)
}

func parseUserID(raw any) (int64, error) {
	var (
		id  int64
		err error
	)

	switch v := raw.(type) {
	case json.Number:
		id, err = v.Int64()
	case string:
		id, err = strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, ErrInvalidSubject
	}

	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSubject, err)
	}
	if id <= 0 {
		return 0, ErrInvalidSubject
	}
	return id, nil
}

// ExtractToken returns the bearer token carried by r. The query parameter wins over
// the Authorization header, which wins over the access_token cookie.
func ExtractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}

	if cookie, err := r.Cookie(AccessTokenCookie); err == nil {
		return cookie.Value
	}

	return ""
}
