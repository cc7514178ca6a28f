package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AnatoliyZakhryapin/DeviceService/pkg/config"
)

var errNoBearer = errors.New("missing bearer token")

// TokenValidator проверяет JWT панели управления: HS256, issuer, audience и обязательный exp.
type TokenValidator struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

func NewTokenValidator(s config.JWTSettings) (*TokenValidator, error) {
	if s.SecretKey == "" {
		return nil, fmt.Errorf("api: jwt secret is empty")
	}
	return &TokenValidator{secret: []byte(s.SecretKey), issuer: s.Issuer, audience: s.Audience}, nil
}

// Validate разбирает токен и возвращает его claims.
func (v *TokenValidator) Validate(raw string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.now))
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// IssueToken выпускает токен для панели управления с теми же параметрами, что проверяет TokenValidator.
func IssueToken(s config.JWTSettings, subject string, ttl time.Duration, now time.Time) (string, error) {
	if s.SecretKey == "" {
		return "", fmt.Errorf("api: jwt secret is empty")
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if s.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.Audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.SecretKey))
	if err != nil {
		return "", fmt.Errorf("api: sign token: %w", err)
	}
	return signed, nil
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errNoBearer
	}
	return strings.TrimSpace(token), nil
}
