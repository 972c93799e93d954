package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"clinicdesk/queue-service/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

type actorContextKey struct{}

// Claims is the access token issued by the clinic's auth service.
type Claims struct {
	Role     string `json:"role"`
	ClinicID string `json:"clinic_id"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}
}

// Actor verifies a bearer token and maps its claims onto a queue actor.
func (a *Authenticator) Actor(token string) (models.Actor, error) {
	var claims Claims
	if _, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return models.Actor{}, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return models.Actor{}, errors.New("token has no subject")
	}
	role, ok := models.ParseRole(claims.Role)
	if !ok {
		return models.Actor{}, errors.New("token role is not allowed to use the queue")
	}
	return models.Actor{
		ID:       claims.Subject,
		Role:     role,
		ClinicID: strings.TrimSpace(claims.ClinicID),
	}, nil
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		actor, err := a.Actor(token)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func actorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(models.Actor)
	return actor, ok
}

// requireClinic resolves the clinic a request targets. An empty clinic_id
// falls back to the token's clinic; any other clinic is refused.
func requireClinic(w http.ResponseWriter, r *http.Request, requested string) (models.Actor, string, bool) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthenticated", "missing actor")
		return models.Actor{}, "", false
	}
	clinicID := strings.TrimSpace(requested)
	if clinicID == "" {
		clinicID = actor.ClinicID
	}
	if clinicID == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "clinic_id is required")
		return models.Actor{}, "", false
	}
	if !isValidUUID(clinicID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "clinic_id must be a UUID")
		return models.Actor{}, "", false
	}
	if actor.ClinicID != clinicID {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "clinic access denied")
		return models.Actor{}, "", false
	}
	return actor, clinicID, true
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	case "/api/display":
		return r.Method == http.MethodGet
	default:
		return r.Method == http.MethodOptions
	}
}
