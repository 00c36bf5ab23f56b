// Package confirm implements the high-impact confirmation protocol.
//
// When the autonomy gate returns confirm_first for a high-impact write, the
// caller must present a token issued for the exact payload digest of that
// request. Tokens are single-use and expire after a fixed freshness window.
// Verification fails closed: digest mismatch, expiry, empty token, and
// replay are all rejections, never downgrades.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/replaycache"
)

// Rejection reasons surfaced in policy-violation blockers.
var (
	ErrMissingToken   = errors.New("confirm: missing confirmation token")
	ErrDigestMismatch = errors.New("confirm: token bound to a different payload digest")
	ErrExpired        = errors.New("confirm: token expired")
	ErrReplayed       = errors.New("confirm: token already used")
	ErrUserMismatch   = errors.New("confirm: token issued for a different user")
	ErrActionMismatch = errors.New("confirm: token issued for a different action class")
	ErrMalformed      = errors.New("confirm: malformed token")
)

// TokenClaims binds a confirmation to one exact request.
type TokenClaims struct {
	ActionClass   string `json:"action_class"`
	PayloadDigest string `json:"payload_digest"`
	jwt.RegisteredClaims
}

// Protocol issues and verifies confirmation tokens.
type Protocol struct {
	secret []byte
	window time.Duration
	replay replaycache.Cache
	clock  func() time.Time
}

// NewProtocol builds the confirmation protocol. window is the token
// freshness window (issuance to last valid use).
func NewProtocol(secret []byte, window time.Duration, replay replaycache.Cache) *Protocol {
	return &Protocol{
		secret: secret,
		window: window,
		replay: replay,
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (p *Protocol) WithClock(clock func() time.Time) *Protocol {
	p.clock = clock
	return p
}

// Issue creates a single-use token bound to {user, action class, payload
// digest}. Call only after preflight passes: a token issued for a payload
// that is about to be corrected is wasted, because the digest changes.
func (p *Protocol) Issue(userID, actionClass, payloadDigest string) (string, error) {
	now := p.clock()
	claims := TokenClaims{
		ActionClass:   actionClass,
		PayloadDigest: payloadDigest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.window)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("confirm: sign: %w", err)
	}
	return signed, nil
}

// Verify checks and consumes a token. A successful verification marks the
// token's nonce as seen; a second use fails with ErrReplayed.
func (p *Protocol) Verify(ctx context.Context, tokenStr, userID, actionClass, payloadDigest string) error {
	if tokenStr == "" {
		return ErrMissingToken
	}

	var claims TokenClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.clock))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpired
		}
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !token.Valid {
		return ErrMalformed
	}

	if claims.Subject != userID {
		return ErrUserMismatch
	}
	if claims.ActionClass != actionClass {
		return ErrActionMismatch
	}
	if claims.PayloadDigest != payloadDigest {
		return ErrDigestMismatch
	}
	if claims.ExpiresAt == nil || p.clock().After(claims.ExpiresAt.Time) {
		return ErrExpired
	}
	if claims.ID == "" {
		return ErrMalformed
	}

	replayKey := "confirm:" + claims.ID
	seen, err := p.replay.Seen(ctx, replayKey)
	if err != nil {
		return fmt.Errorf("confirm: replay check: %w", err)
	}
	if seen {
		return ErrReplayed
	}
	if err := p.replay.MarkSeen(ctx, replayKey, p.window*2); err != nil {
		return fmt.Errorf("confirm: replay mark: %w", err)
	}
	return nil
}
