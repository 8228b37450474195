package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/osvaldoandrade/imagegate/pkg/auth"
)

const defaultCacheTTL = 5 * time.Minute

// Config is the JSON shape accepted under auth.config for the "jwks" provider.
type Config struct {
	JwksURL            string `json:"jwksUrl"`
	Issuer             string `json:"issuer"`
	Audience           string `json:"audience"`
	ClockSkewSeconds   int    `json:"clockSkewSeconds,omitempty"`
	HTTPTimeoutSeconds int    `json:"httpTimeoutSeconds,omitempty"`
	CacheTTLSeconds    int    `json:"cacheTtlSeconds,omitempty"`
}

// Validator validates RS-signed JWTs against keys fetched from a JWKS endpoint.
type Validator struct {
	jwksURL  string
	parser   *jwt.Parser
	client   *http.Client
	cacheTTL time.Duration

	mu        sync.RWMutex
	keyCache  map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("jwks auth: invalid config: %w", err)
	}
	return NewValidator(cfg)
}

// NewValidator creates a new JWKS validator
func NewValidator(cfg Config) (*Validator, error) {
	cfg.JwksURL = strings.TrimSpace(cfg.JwksURL)
	if cfg.JwksURL == "" {
		return nil, errors.New("jwks auth: jwksUrl is required")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("jwks auth: issuer is required")
	}
	if strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("jwks auth: audience is required")
	}
	timeout := time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &Validator{
		jwksURL: cfg.JwksURL,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithLeeway(time.Duration(cfg.ClockSkewSeconds)*time.Second),
			jwt.WithIssuedAt(),
		),
		client:   &http.Client{Timeout: timeout},
		cacheTTL: ttl,
		keyCache: make(map[string]*rsa.PublicKey),
	}, nil
}

// Validate validates a JWT token
func (v *Validator) Validate(tokenString string) (*auth.Claims, error) {
	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("missing kid in token header")
		}
		return v.publicKey(kid)
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	out := &auth.Claims{
		Subject: stringClaim(claims, "sub"),
		Email:   stringClaim(claims, "email"),
		Raw:     claims,
	}
	out.Issuer, _ = claims.GetIssuer()
	out.Audience, _ = claims.GetAudience()
	if exp, _ := claims.GetExpirationTime(); exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat, _ := claims.GetIssuedAt(); iat != nil {
		out.IssuedAt = iat.Time
	}
	switch scope := claims["scope"].(type) {
	case string:
		out.Scopes = strings.Fields(scope)
	case []interface{}:
		for _, s := range scope {
			if str, ok := s.(string); ok {
				out.Scopes = append(out.Scopes, str)
			}
		}
	}
	return out, nil
}

// publicKey serves from cache while fresh; an unknown kid forces a refetch
// so key rotation is picked up immediately.
func (v *Validator) publicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keyCache[kid]
	fresh := time.Since(v.fetchedAt) < v.cacheTTL
	v.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	keys, err := v.fetch()
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.keyCache = keys
	v.fetchedAt = time.Now()
	v.mu.Unlock()

	if key, ok := keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("key %s not found in JWKS", kid)
}

func (v *Validator) fetch() (map[string]*rsa.PublicKey, error) {
	ctx, cancel := context.WithTimeout(context.Background(), v.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWKS request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var doc struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA key %s: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode e: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}

func init() {
	auth.RegisterProvider("jwks", NewValidatorFromJSON)
}
