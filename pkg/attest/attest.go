// Package attest resolves the writing model's identity and verifies model
// attestations.
//
// An attestation is an HS256 JWT binding {model id, request id, payload
// digest, user id, issued-at}. Verification is fail-closed: signature,
// freshness, and replay must all pass or the attestation is rejected and the
// identity falls back down the resolution chain.
package attest

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/replaycache"
)

// Reason codes recorded when identity resolution falls back.
const (
	ReasonAttested        = "attested"
	ReasonAttestationFail = "attestation_failed"
	ReasonClientMap       = "client_map"
	ReasonRuntimeDefault  = "runtime_default"
	ReasonUnknown         = "unknown_model"
)

// Identity is the resolved writing-model identity.
type Identity struct {
	Model      string `json:"model"`
	Attested   bool   `json:"attested"`
	ReasonCode string `json:"reason_code"`
	// Detail explains a fallback (e.g. why attestation verification failed).
	Detail string `json:"detail,omitempty"`
}

// Claims is the attestation payload.
type Claims struct {
	Model         string `json:"model"`
	PayloadDigest string `json:"payload_digest"`
	jwt.RegisteredClaims
}

// Verifier issues and verifies attestation tokens.
type Verifier struct {
	secret    []byte
	freshness time.Duration
	replay    replaycache.Cache
	clock     func() time.Time
}

// NewVerifier builds an attestation verifier. freshness bounds how old an
// attestation's issued-at may be.
func NewVerifier(secret []byte, freshness time.Duration, replay replaycache.Cache) *Verifier {
	return &Verifier{
		secret:    secret,
		freshness: freshness,
		replay:    replay,
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (v *Verifier) WithClock(clock func() time.Time) *Verifier {
	v.clock = clock
	return v
}

// Issue signs an attestation for the given model, request and payload digest.
func (v *Verifier) Issue(model, requestID, payloadDigest, userID string) (string, error) {
	now := v.clock()
	claims := Claims{
		Model:         model,
		PayloadDigest: payloadDigest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			ID:       requestID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("attest: sign: %w", err)
	}
	return signed, nil
}

// Verify checks signature, binding, freshness, and replay. On success the
// request id is consumed: a second verification of the same id fails.
func (v *Verifier) Verify(ctx context.Context, tokenStr, payloadDigest, userID string) (*Claims, error) {
	if tokenStr == "" {
		return nil, fmt.Errorf("attest: empty token")
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.clock))
	if err != nil {
		return nil, fmt.Errorf("attest: parse: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("attest: invalid token")
	}

	if claims.PayloadDigest != payloadDigest {
		return nil, fmt.Errorf("attest: payload digest mismatch")
	}
	if claims.Subject != userID {
		return nil, fmt.Errorf("attest: user mismatch")
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("attest: missing request id")
	}
	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("attest: missing issued-at")
	}

	now := v.clock()
	age := now.Sub(claims.IssuedAt.Time)
	if age > v.freshness || age < -v.freshness {
		return nil, fmt.Errorf("attest: issued-at outside freshness window")
	}

	replayKey := "attest:" + claims.ID
	seen, err := v.replay.Seen(ctx, replayKey)
	if err != nil {
		return nil, fmt.Errorf("attest: replay check: %w", err)
	}
	if seen {
		return nil, fmt.Errorf("attest: request id already consumed")
	}
	if err := v.replay.MarkSeen(ctx, replayKey, v.freshness*2); err != nil {
		return nil, fmt.Errorf("attest: replay mark: %w", err)
	}

	return &claims, nil
}

// Resolver resolves the model identity for a request.
//
// Resolution order: explicit attestation > client-to-model map > runtime
// default > "unknown". Every fallback records a reason code so downstream
// policy can distinguish a verified identity from a guess.
type Resolver struct {
	verifier  *Verifier
	clientMap map[string]string
	runtime   string
}

// NewResolver builds an identity resolver. clientMap maps client ids to
// their known model; runtimeDefault may be empty.
func NewResolver(verifier *Verifier, clientMap map[string]string, runtimeDefault string) *Resolver {
	if clientMap == nil {
		clientMap = make(map[string]string)
	}
	return &Resolver{verifier: verifier, clientMap: clientMap, runtime: runtimeDefault}
}

// Resolve determines the writing model for a request. attestToken may be
// empty. A failed attestation does not abort the request; it falls through
// with a reason code and the gate treats the identity as unattested.
func (r *Resolver) Resolve(ctx context.Context, attestToken, clientID, payloadDigest, userID string) Identity {
	if attestToken != "" {
		claims, err := r.verifier.Verify(ctx, attestToken, payloadDigest, userID)
		if err == nil {
			return Identity{Model: claims.Model, Attested: true, ReasonCode: ReasonAttested}
		}
		// Fall through, but surface why.
		if model, ok := r.clientMap[clientID]; ok {
			return Identity{Model: model, ReasonCode: ReasonAttestationFail, Detail: err.Error()}
		}
		if r.runtime != "" {
			return Identity{Model: r.runtime, ReasonCode: ReasonAttestationFail, Detail: err.Error()}
		}
		return Identity{Model: "unknown", ReasonCode: ReasonAttestationFail, Detail: err.Error()}
	}

	if model, ok := r.clientMap[clientID]; ok {
		return Identity{Model: model, ReasonCode: ReasonClientMap}
	}
	if r.runtime != "" {
		return Identity{Model: r.runtime, ReasonCode: ReasonRuntimeDefault}
	}
	return Identity{Model: "unknown", ReasonCode: ReasonUnknown}
}
