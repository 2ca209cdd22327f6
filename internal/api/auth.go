package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"studiobook/internal/config"
	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/golang-jwt/jwt/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	clientKeyUnknown    = "unknown"

	permRead          = "read"
	permWriteBookings = "write:bookings"
	permAdmin         = "admin"
)

var errUnauthenticated = errors.New("unauthenticated")

// Principal is the authenticated caller of a request.
type Principal struct {
	Actor domain.Actor
	// Client names the API key, or "user:<id>" for bearer tokens.
	Client      string
	permissions []string
}

// Allows reports whether the principal holds perm. Users and unrestricted keys hold every permission.
func (p Principal) Allows(perm string) bool {
	if len(p.permissions) == 0 {
		return true
	}
	for _, have := range p.permissions {
		if strings.TrimSpace(have) == perm {
			return true
		}
	}
	return false
}

type actorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 bearer token for actor.
func SignToken(secret string, actor domain.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := actorClaims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Authenticator resolves bearer tokens and API keys into principals.
type Authenticator struct {
	cfg             config.APIAuthConfig
	clientsByAPIKey map[string]config.APIClientKey
}

func NewAuthenticator(cfg config.APIAuthConfig) *Authenticator {
	m := make(map[string]config.APIClientKey, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k.Key == "" {
			continue
		}
		m[k.Key] = k
	}
	return &Authenticator{cfg: cfg, clientsByAPIKey: m}
}

func (a *Authenticator) apiKeyHeader() string {
	h := strings.ToLower(strings.TrimSpace(a.cfg.HeaderAPIKey))
	if h == "" {
		return apiKeyHeaderDefault
	}
	return h
}

// Authenticate checks the Authorization header first, then the API key.
func (a *Authenticator) Authenticate(authorization, apiKey string) (Principal, error) {
	if token, ok := strings.CutPrefix(strings.TrimSpace(authorization), "Bearer "); ok {
		actor, err := a.parseToken(strings.TrimSpace(token))
		if err != nil {
			return Principal{}, err
		}
		return Principal{Actor: actor, Client: fmt.Sprintf("user:%d", actor.UserID)}, nil
	}

	if apiKey == "" {
		return Principal{}, errUnauthenticated
	}
	for key, client := range a.clientsByAPIKey {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return Principal{
				Actor:       domain.Actor{Role: models.RoleAdmin},
				Client:      client.Name,
				permissions: client.Permissions,
			}, nil
		}
	}
	return Principal{}, fmt.Errorf("%w: invalid api key", errUnauthenticated)
}

func (a *Authenticator) parseToken(raw string) (domain.Actor, error) {
	if a.cfg.JWTSecret == "" {
		return domain.Actor{}, fmt.Errorf("%w: bearer tokens are not accepted", errUnauthenticated)
	}
	var claims actorClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(a.cfg.JWTSecret), nil
	})
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return domain.Actor{}, fmt.Errorf("%w: invalid subject", errUnauthenticated)
	}
	role := claims.Role
	if role != models.RoleAdmin {
		role = models.RoleUser
	}
	return domain.Actor{UserID: id, Role: role}, nil
}

// targetUser resolves whose behalf a request acts on. Only admins may name another user.
func targetUser(p Principal, requested int64) (int64, error) {
	switch {
	case requested == 0 && p.Actor.UserID == 0:
		return 0, domain.NewError(domain.KindValidation, "user_id is required")
	case requested == 0:
		return p.Actor.UserID, nil
	case requested != p.Actor.UserID && !p.Actor.IsAdmin():
		return 0, domain.NewError(domain.KindForbidden, "cannot act for user %d", requested)
	}
	return requested, nil
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by the auth interceptor.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// AuthInterceptor authenticates and rate-limits gRPC calls.
type AuthInterceptor struct {
	cfg     *config.APIConfig
	auth    *Authenticator
	limiter *clientLimiter
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{
		cfg:     cfg,
		auth:    NewAuthenticator(cfg.Auth),
		limiter: newClientLimiter(cfg.RateLimit),
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}

		p := Principal{Actor: domain.Actor{Role: models.RoleAdmin}, Client: clientKeyUnknown}
		if a.cfg.Auth.Enabled {
			md, _ := metadata.FromIncomingContext(ctx)
			var err error
			p, err = a.auth.Authenticate(first(md.Get("authorization")), first(md.Get(a.auth.apiKeyHeader())))
			if err != nil {
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
			if required := requiredPermission(info.FullMethod); required != "" && !p.Allows(required) {
				return nil, status.Error(codes.PermissionDenied, "permission denied")
			}
		}

		if ok, wait := a.limiter.admit(a.clientKey(ctx, p)); !ok {
			_ = grpc.SetHeader(ctx, metadata.Pairs("retry-after", retryAfterSeconds(wait)))
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}

		return handler(withPrincipal(ctx, p), req)
	}
}

func requiredPermission(fullMethod string) string {
	switch strings.TrimPrefix(fullMethod, "/"+studioServiceName+"/") {
	case "GenerateLessons":
		return permAdmin
	case "CreateBookings", "CancelBooking":
		return permWriteBookings
	case "GetUserBookingsForLesson", "GetByIdForBooking", "GetRemainingCapacity":
		return permRead
	default:
		return ""
	}
}

func (a *AuthInterceptor) clientKey(ctx context.Context, p Principal) string {
	if p.Client != "" && p.Client != clientKeyUnknown {
		return p.Client
	}
	if pr, ok := peer.FromContext(ctx); ok && pr.Addr != nil {
		return pr.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
