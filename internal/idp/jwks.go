package idp

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
)

const keyCacheTTL = time.Hour

// jsonWebKey is one entry of the provider's published key set.
type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type jsonWebKeySet struct {
	Keys []jsonWebKey `json:"keys"`
}

// KeySet fetches and caches the provider's signing keys so userinfo JWT
// signatures can be verified without a JWKS round-trip per callback. An
// unknown kid forces a refresh, which covers provider key rotation.
type KeySet struct {
	endpoint   string
	httpClient *http.Client
	cache      *ttlcache.Cache[string, any]
	mu         sync.Mutex
}

// NewKeySet creates a KeySet over the given JWKS endpoint.
func NewKeySet(endpoint string, httpClient *http.Client) *KeySet {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, any](keyCacheTTL),
		ttlcache.WithDisableTouchOnHit[string, any](),
	)
	go cache.Start()

	return &KeySet{
		endpoint:   endpoint,
		httpClient: httpClient,
		cache:      cache,
	}
}

// Close stops the cache lifecycle goroutine.
func (ks *KeySet) Close() {
	ks.cache.Stop()
}

// Keyfunc resolves the verification key for a userinfo JWT, matching the
// token's kid header against the cached provider keys.
func (ks *KeySet) Keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)

	if kid != "" {
		if item := ks.cache.Get(kid); item != nil {
			return item.Value(), nil
		}
	}

	keys, err := ks.refresh(context.Background())
	if err != nil {
		return nil, err
	}

	if kid == "" {
		if len(keys) == 1 {
			for _, key := range keys {
				return key, nil
			}
		}
		return nil, fmt.Errorf("userinfo token has no kid and provider publishes %d keys", len(keys))
	}
	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("no provider key with kid %q", kid)
	}
	return key, nil
}

// refresh fetches the provider key set and repopulates the cache. Serialized
// so a burst of callbacks after a key rotation triggers one fetch.
func (ks *KeySet) refresh(ctx context.Context) (map[string]any, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWKS request: %w", err)
	}
	resp, err := ks.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch provider JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider JWKS returned status %d: %s", resp.StatusCode, body)
	}

	var set jsonWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode provider JWKS: %w", err)
	}

	keys := make(map[string]any, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		key, err := jwk.publicKey()
		if err != nil {
			log.Warn().Err(err).Str("kid", jwk.Kid).Msg("skipping unusable provider key")
			continue
		}
		keys[jwk.Kid] = key
		ks.cache.Set(jwk.Kid, key, keyCacheTTL)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("provider JWKS contains no usable signing keys")
	}
	return keys, nil
}

func (k jsonWebKey) publicKey() (any, error) {
	switch k.Kty {
	case "RSA":
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("bad RSA modulus: %w", err)
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("bad RSA exponent: %w", err)
		}
		return &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}, nil
	case "EC":
		curve, err := curveByName(k.Crv)
		if err != nil {
			return nil, err
		}
		x, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("bad EC x coordinate: %w", err)
		}
		y, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil {
			return nil, fmt.Errorf("bad EC y coordinate: %w", err)
		}
		return &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}

func curveByName(name string) (elliptic.Curve, error) {
	switch name {
	case "P-256":
		return elliptic.P256(), nil
	case "P-384":
		return elliptic.P384(), nil
	case "P-521":
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("unsupported curve %q", name)
	}
}
