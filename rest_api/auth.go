package rest_api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	sr "github.com/solver-ralph/sr"
)

const actorContextKey = "sr.actor"

// Authenticated validates the bearer token and stores the derived actor in
// the request context. Handlers read it back with actorFrom.
func Authenticated(provider sr.IdentityProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				errorBody{Error: "missing bearer token", Code: "UNAUTHORIZED"})
			return
		}
		actor, err := provider.Validate(c.Request.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden,
				errorBody{Error: err.Error(), Code: "FORBIDDEN"})
			return
		}
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) sr.ActorID {
	if v, ok := c.Get(actorContextKey); ok {
		if actor, ok := v.(sr.ActorID); ok {
			return actor
		}
	}
	return sr.ActorID{Kind: sr.ActorHuman, ID: "anonymous"}
}

// InsecureProvider accepts "KIND:subject" tokens without validation. Only for
// local development and tests (SR_AUTH_DISABLED).
type InsecureProvider struct{}

func (InsecureProvider) Validate(ctx context.Context, token string) (sr.ActorID, error) {
	kind, id, found := strings.Cut(token, ":")
	if !found {
		return sr.ActorID{Kind: sr.ActorHuman, ID: token}, nil
	}
	switch strings.ToUpper(kind) {
	case string(sr.ActorSystem):
		return sr.ActorID{Kind: sr.ActorSystem, ID: id}, nil
	case string(sr.ActorAgent):
		return sr.ActorID{Kind: sr.ActorAgent, ID: id}, nil
	default:
		return sr.ActorID{Kind: sr.ActorHuman, ID: id}, nil
	}
}

// OIDCConfig locates the identity provider.
type OIDCConfig struct {
	Issuer   string
	Audience string
}

// OIDCProvider validates RS256 bearer tokens against the issuer's JWKS. Keys
// are cached by kid and refreshed once when an unknown kid shows up.
type OIDCProvider struct {
	config OIDCConfig
	client *http.Client

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	jwksURI string
}

func NewOIDCProvider(config OIDCConfig) *OIDCProvider {
	return &OIDCProvider{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
		keys:   make(map[string]*rsa.PublicKey),
	}
}

// Validate parses and verifies the token, then derives the actor: the
// sr_actor_kind claim wins, otherwise the subject is treated as a human.
func (p *OIDCProvider) Validate(ctx context.Context, token string) (sr.ActorID, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return p.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(p.config.Issuer),
		jwt.WithAudience(p.config.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return sr.ActorID{}, fmt.Errorf("token validation failed, details: %v", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return sr.ActorID{}, fmt.Errorf("unexpected claims type")
	}
	subject, _ := claims.GetSubject()
	if subject == "" {
		return sr.ActorID{}, fmt.Errorf("token has no subject")
	}
	kind := sr.ActorHuman
	if declared, _ := claims["sr_actor_kind"].(string); declared != "" {
		switch strings.ToUpper(declared) {
		case string(sr.ActorSystem):
			kind = sr.ActorSystem
		case string(sr.ActorAgent):
			kind = sr.ActorAgent
		case string(sr.ActorHuman):
			kind = sr.ActorHuman
		default:
			return sr.ActorID{}, fmt.Errorf("unknown actor kind claim: %s", declared)
		}
	}
	return sr.ActorID{Kind: kind, ID: subject}, nil
}

func (p *OIDCProvider) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if key, ok := p.keys[kid]; ok {
		return key, nil
	}
	if err := p.refreshKeys(ctx); err != nil {
		return nil, err
	}
	if key, ok := p.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("no signing key with kid %q", kid)
}

type jwksDocument struct {
	Keys []struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (p *OIDCProvider) refreshKeys(ctx context.Context) error {
	if p.jwksURI == "" {
		uri, err := p.discoverJWKSURI(ctx)
		if err != nil {
			return err
		}
		p.jwksURI = uri
	}
	var document jwksDocument
	if err := p.getJSON(ctx, p.jwksURI, &document); err != nil {
		return fmt.Errorf("fetch jwks, details: %v", err)
	}
	for _, k := range document.Keys {
		if k.Kty != "RSA" {
			continue
		}
		modulus, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		exponent, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		p.keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(modulus),
			E: int(new(big.Int).SetBytes(exponent).Int64()),
		}
	}
	return nil
}

func (p *OIDCProvider) discoverJWKSURI(ctx context.Context) (string, error) {
	var discovery struct {
		JWKSURI string `json:"jwks_uri"`
	}
	endpoint := strings.TrimSuffix(p.config.Issuer, "/") + "/.well-known/openid-configuration"
	if err := p.getJSON(ctx, endpoint, &discovery); err != nil {
		return "", fmt.Errorf("oidc discovery, details: %v", err)
	}
	if discovery.JWKSURI == "" {
		return "", fmt.Errorf("issuer %s advertises no jwks_uri", p.config.Issuer)
	}
	return discovery.JWKSURI, nil
}

func (p *OIDCProvider) getJSON(ctx context.Context, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}
