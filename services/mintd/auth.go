package mintd

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig describes admin authentication options.
type AuthConfig struct {
	BearerToken string
	// JWTSecret enables HMAC-signed bearer tokens alongside the static token.
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	ClockSkew   time.Duration
	AllowMTLS   bool
}

// Authenticator validates incoming admin requests.
type Authenticator struct {
	bearerToken string
	jwtSecret   []byte
	jwtOptions  []jwt.ParserOption
	allowMTLS   bool
}

// NewAuthenticator constructs an Authenticator from configuration.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	token := strings.TrimSpace(cfg.BearerToken)
	secret := strings.TrimSpace(cfg.JWTSecret)
	if token == "" && secret == "" && !cfg.AllowMTLS {
		return nil, fmt.Errorf("at least one authentication mechanism must be configured")
	}
	a := &Authenticator{bearerToken: token, allowMTLS: cfg.AllowMTLS}
	if secret != "" {
		skew := cfg.ClockSkew
		if skew <= 0 {
			skew = 2 * time.Minute
		}
		a.jwtSecret = []byte(secret)
		a.jwtOptions = []jwt.ParserOption{
			jwt.WithLeeway(skew),
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
			jwt.WithExpirationRequired(),
		}
		if iss := strings.TrimSpace(cfg.JWTIssuer); iss != "" {
			a.jwtOptions = append(a.jwtOptions, jwt.WithIssuer(iss))
		}
		if aud := strings.TrimSpace(cfg.JWTAudience); aud != "" {
			a.jwtOptions = append(a.jwtOptions, jwt.WithAudience(aud))
		}
	}
	return a, nil
}

// Middleware enforces authentication for admin handlers.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			http.Error(w, "authentication unavailable", http.StatusInternalServerError)
			return
		}
		if a.authenticate(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="mintd"`)
		http.Error(w, "authentication required", http.StatusUnauthorized)
	})
}

func (a *Authenticator) authenticate(r *http.Request) bool {
	token := parseBearerToken(r.Header.Get("Authorization"))
	if token != "" {
		if a.bearerToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.bearerToken)) == 1 {
			return true
		}
		if len(a.jwtSecret) > 0 && a.validJWT(token) == nil {
			return true
		}
	}
	if a.allowMTLS && r.TLS != nil && len(r.TLS.VerifiedChains) > 0 {
		return true
	}
	return false
}

func (a *Authenticator) validJWT(raw string) error {
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	}, a.jwtOptions...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token invalid")
	}
	return nil
}

func parseBearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
