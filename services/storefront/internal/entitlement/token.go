package entitlement

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTTL = 7 * 24 * time.Hour

	separator = "."
)

var (
	encoding      = base64.RawURLEncoding.Strict()
	signingMethod = jwt.SigningMethodHS256
)

// Grant is the purchase a token is minted for.
type Grant struct {
	RemoteOrderID string
	ProductID     string
	BuyerContact  string
}

// Claims is the signed payload. Field order is the wire order.
type Claims struct {
	RemoteOrderID string `json:"oid"`
	ProductID     string `json:"pid"`
	BuyerContact  string `json:"sub"`
	IssuedAt      int64  `json:"iat"`
	ExpiresAt     int64  `json:"exp"`
	KeyID         string `json:"kid"`
}

func (c *Claims) IssuedTime() time.Time  { return time.Unix(c.IssuedAt, 0).UTC() }
func (c *Claims) ExpiresTime() time.Time { return time.Unix(c.ExpiresAt, 0).UTC() }

func (c *Claims) valid() bool {
	return c.RemoteOrderID != "" && c.ProductID != "" && c.BuyerContact != "" &&
		c.KeyID != "" && c.ExpiresAt > c.IssuedAt
}

// Service mints and verifies entitlement tokens. It does no I/O and is safe
// for concurrent use.
type Service struct {
	keyring    *Keyring
	defaultTTL time.Duration
	now        func() time.Time
}

func NewService(keyring *Keyring, defaultTTL time.Duration) *Service {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	return &Service{
		keyring:    keyring,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Issue signs a token for grant valid for ttl, or the service default when
// ttl is not positive. Expiry rounds up to the next whole second, so a token
// never lives shorter than ttl.
func (s *Service) Issue(grant Grant, ttl time.Duration) (string, *Claims, error) {
	if grant.RemoteOrderID == "" || grant.ProductID == "" || grant.BuyerContact == "" {
		return "", nil, fmt.Errorf("incomplete grant: order, product and contact are required")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := s.now()
	expires := now.Add(ttl)
	expiresAt := expires.Unix()
	if expires.Nanosecond() > 0 {
		expiresAt++
	}

	claims := &Claims{
		RemoteOrderID: grant.RemoteOrderID,
		ProductID:     grant.ProductID,
		BuyerContact:  grant.BuyerContact,
		IssuedAt:      now.Unix(),
		ExpiresAt:     expiresAt,
		KeyID:         s.keyring.ActiveKeyID(),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", nil, fmt.Errorf("marshal claims: %w", err)
	}

	claimsPart := encoding.EncodeToString(payload)

	sig, err := signingMethod.Sign(claimsPart, s.keyring.activeKey())
	if err != nil {
		return "", nil, fmt.Errorf("sign claims: %w", err)
	}

	return claimsPart + separator + encoding.EncodeToString(sig), claims, nil
}

// Verify checks structure, signature and expiry, in that order. Signatures
// are compared in constant time against every configured key.
func (s *Service) Verify(token string) (*Claims, error) {
	parts := strings.Split(token, separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, ErrMalformed
	}
	claimsPart, sigPart := parts[0], parts[1]

	sig, err := encoding.DecodeString(sigPart)
	if err != nil {
		return nil, fmt.Errorf("%w: signature encoding", ErrMalformed)
	}

	keyID, ok := s.matchKey(claimsPart, sig)
	if !ok {
		return nil, ErrBadSignature
	}

	payload, err := encoding.DecodeString(claimsPart)
	if err != nil {
		return nil, fmt.Errorf("%w: claims encoding", ErrMalformed)
	}

	var claims Claims
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: claims json", ErrMalformed)
	}
	if !claims.valid() {
		return nil, fmt.Errorf("%w: claims incomplete", ErrMalformed)
	}

	// a token signed with one key must not claim another
	if claims.KeyID != keyID {
		return nil, ErrBadSignature
	}

	if s.now().Unix() >= claims.ExpiresAt {
		return nil, ErrExpired
	}

	return &claims, nil
}

func (s *Service) matchKey(signingString string, sig []byte) (string, bool) {
	for _, id := range s.keyring.order {
		if signingMethod.Verify(signingString, sig, s.keyring.keys[id]) == nil {
			return id, true
		}
	}

	return "", false
}
