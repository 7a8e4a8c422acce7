package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/tradelens/ms-go-billing/app/factory"
	"github.com/tradelens/ms-go-billing/app/types"
)

type JWTConfig struct {
	Secret string
}

type JWTMiddleware struct {
	secret string
	logger logrus.FieldLogger
}

func NewJWTMiddleware(cfg JWTConfig) *JWTMiddleware {
	return &JWTMiddleware{
		secret: cfg.Secret,
		logger: factory.NewModuleLogger("auth-middleware"),
	}
}

// Require rejects calls without a valid bearer token and stores the subject
// on the context.
func (m *JWTMiddleware) Require() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			subject, err := m.subjectFromRequest(ctx)
			if err != nil {
				m.logger.WithError(err).WithField("path", ctx.Request().URL.Path).Warn("Unauthorized request")
				return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "unauthorized"})
			}
			ctx.Set(types.UserIDContextKey, subject)
			return next(ctx)
		}
	}
}

// Optional resolves the subject when a token is present but lets anonymous
// calls through; the checkout endpoint serves pre-registration purchases.
func (m *JWTMiddleware) Optional() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if strings.TrimSpace(ctx.Request().Header.Get("Authorization")) == "" {
				return next(ctx)
			}
			subject, err := m.subjectFromRequest(ctx)
			if err != nil {
				return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "unauthorized"})
			}
			ctx.Set(types.UserIDContextKey, subject)
			return next(ctx)
		}
	}
}

func (m *JWTMiddleware) subjectFromRequest(ctx echo.Context) (string, error) {
	header := strings.TrimSpace(ctx.Request().Header.Get("Authorization"))
	if header == "" {
		return "", fmt.Errorf("authorization header missing")
	}

	tokenString := strings.TrimPrefix(header, "Bearer ")
	if tokenString == header {
		return "", fmt.Errorf("authorization header is not a bearer token")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return "", fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.secret), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("token is invalid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}
	subject, _ := claims["sub"].(string)
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("token has no subject")
	}

	return subject, nil
}
