package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultJWKSCacheTTL = 5 * time.Minute
	maxCachedKeys       = 64
)

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSCache resolves RSA verification keys by kid. Keys expire after the
// TTL; an unknown kid triggers a refetch so rotated keys are picked up.
type JWKSCache struct {
	mu      sync.Mutex
	keys    *expirable.LRU[string, *rsa.PublicKey]
	jwksURL string
	issuer  string
	client  *http.Client
}

// NewJWKSCache fetches keys from jwksURL. When jwksURL is empty it is looked
// up from the issuer's OpenID discovery document on first use.
func NewJWKSCache(jwksURL, issuer string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		keys:    expirable.NewLRU[string, *rsa.PublicKey](maxCachedKeys, nil, ttl),
		jwksURL: jwksURL,
		issuer:  issuer,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// KeyFunc is a jwt.Keyfunc.
func (c *JWKSCache) KeyFunc(token *jwt.Token) (interface{}, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("token has no kid header")
	}
	return c.GetKey(kid)
}

func (c *JWKSCache) GetKey(kid string) (*rsa.PublicKey, error) {
	if key, ok := c.keys.Get(kid); ok {
		return key, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another caller may have refreshed while we waited.
	if key, ok := c.keys.Get(kid); ok {
		return key, nil
	}
	if err := c.fetch(); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}
	key, ok := c.keys.Get(kid)
	if !ok {
		return nil, fmt.Errorf("key with kid %q not found in JWKS", kid)
	}
	return key, nil
}

// fetch must be called with mu held.
func (c *JWKSCache) fetch() error {
	if c.jwksURL == "" {
		u, err := c.discover()
		if err != nil {
			return err
		}
		c.jwksURL = u
	}

	var doc struct {
		Keys []jwksKey `json:"keys"`
	}
	if err := c.getJSON(c.jwksURL, &doc); err != nil {
		return err
	}
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k)
		if err != nil {
			continue
		}
		c.keys.Add(k.Kid, pub)
	}
	return nil
}

func (c *JWKSCache) discover() (string, error) {
	if c.issuer == "" {
		return "", fmt.Errorf("neither a JWKS URL nor an issuer is configured")
	}
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	url := strings.TrimRight(c.issuer, "/") + "/.well-known/openid-configuration"
	if err := c.getJSON(url, &doc); err != nil {
		return "", fmt.Errorf("OIDC discovery: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("OIDC discovery document missing jwks_uri")
	}
	return doc.JWKSURI, nil
}

func (c *JWKSCache) getJSON(url string, v interface{}) error {
	resp, err := c.client.Get(url)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}

func parseRSAPublicKey(k jwksKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
