package confirm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/confirm"
	"github.com/jonzim-cmd/kura-training-sub000/pkg/replaycache"
)

const (
	digest = "sha256:payload"
	user   = "u1"
	action = "high_impact_write"
)

func newProtocol(now func() time.Time) *confirm.Protocol {
	replay := replaycache.NewMemory().WithClock(now)
	return confirm.NewProtocol([]byte("secret"), 5*time.Minute, replay).WithClock(now)
}

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newProtocol(func() time.Time { return now })

	token, err := p.Issue(user, action, digest)
	require.NoError(t, err)

	require.NoError(t, p.Verify(context.Background(), token, user, action, digest))
}

func TestVerifyRejections(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		token   func(p *confirm.Protocol) string
		user    string
		action  string
		digest  string
		elapsed time.Duration
		wantErr error
	}{
		{
			name:    "missing token",
			token:   func(*confirm.Protocol) string { return "" },
			user:    user, action: action, digest: digest,
			wantErr: confirm.ErrMissingToken,
		},
		{
			name: "digest mismatch",
			token: func(p *confirm.Protocol) string {
				tok, _ := p.Issue(user, action, digest)
				return tok
			},
			user: user, action: action, digest: "sha256:edited",
			wantErr: confirm.ErrDigestMismatch,
		},
		{
			name: "user mismatch",
			token: func(p *confirm.Protocol) string {
				tok, _ := p.Issue(user, action, digest)
				return tok
			},
			user: "u2", action: action, digest: digest,
			wantErr: confirm.ErrUserMismatch,
		},
		{
			name: "action class mismatch",
			token: func(p *confirm.Protocol) string {
				tok, _ := p.Issue(user, action, digest)
				return tok
			},
			user: user, action: "low_impact_write", digest: digest,
			wantErr: confirm.ErrActionMismatch,
		},
		{
			name: "expired",
			token: func(p *confirm.Protocol) string {
				tok, _ := p.Issue(user, action, digest)
				return tok
			},
			user: user, action: action, digest: digest,
			elapsed: 6 * time.Minute,
			wantErr: confirm.ErrExpired,
		},
		{
			name:  "malformed",
			token: func(*confirm.Protocol) string { return "not.a.jwt" },
			user:  user, action: action, digest: digest,
			wantErr: confirm.ErrMalformed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := base
			p := newProtocol(func() time.Time { return now })
			token := tt.token(p)
			now = now.Add(tt.elapsed)

			err := p.Verify(context.Background(), token, tt.user, tt.action, tt.digest)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifyIsSingleUse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newProtocol(func() time.Time { return now })
	ctx := context.Background()

	token, err := p.Issue(user, action, digest)
	require.NoError(t, err)

	require.NoError(t, p.Verify(ctx, token, user, action, digest))
	assert.ErrorIs(t, p.Verify(ctx, token, user, action, digest), confirm.ErrReplayed)
}
