package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/breatheroute/airwatch/internal/api/models"
	"github.com/breatheroute/airwatch/internal/auth"
)

type subjectKey struct{}

// TokenValidator validates admin bearer tokens.
type TokenValidator interface {
	ValidateAdminToken(token string) (*auth.Claims, error)
}

var (
	errNoAuthorization = errors.New("missing authorization header")
	errNotBearer       = errors.New("invalid authorization header format")
	errNoToken         = errors.New("missing bearer token")
)

// AdminAuth requires a valid admin bearer token and stores its subject in
// the request context. Expired or malformed tokens get 401; tokens without
// the admin role get 403.
func AdminAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeAuthProblem(w, r, models.NewUnauthorized, err.Error())
				return
			}

			claims, err := validator.ValidateAdminToken(token)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, claims.Subject)))
			case errors.Is(err, auth.ErrForbidden):
				writeAuthProblem(w, r, models.NewForbidden, "admin role required")
			case errors.Is(err, auth.ErrTokenExpired), errors.Is(err, auth.ErrInvalidToken):
				writeAuthProblem(w, r, models.NewUnauthorized, unwrapFirst(err).Error())
			default:
				writeAuthProblem(w, r, models.NewUnauthorized, "authentication failed")
			}
		})
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>",
// matching the scheme case-insensitively.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errNoAuthorization
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", errNotBearer
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errNoToken
	}
	return token, nil
}

// unwrapFirst returns the sentinel at the head of a "%w: detail" chain so
// parser internals stay out of responses.
func unwrapFirst(err error) error {
	for _, sentinel := range []error{auth.ErrTokenExpired, auth.ErrInvalidToken} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return err
}

// writeAuthProblem lives here rather than in the response package, which
// imports this one.
func writeAuthProblem(w http.ResponseWriter, r *http.Request, build func(traceID, detail string) *models.Problem, detail string) {
	problem := build(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// GetSubject returns the authenticated admin subject, or "" when the
// request was not authenticated.
func GetSubject(ctx context.Context) string {
	if sub, ok := ctx.Value(subjectKey{}).(string); ok {
		return sub
	}
	return ""
}
