package service

import (
	"context"
	"time"

	"github.com/HappyLadySauce/errors"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/audit"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/pkg/utils/jwt"
	"github.com/fleetkeeper/fleetkeeper/pkg/utils/passwd"
	"github.com/fleetkeeper/fleetkeeper/pkg/utils/snowflake"
)

// AuthSrv mints and verifies API bearer tokens. The clear secret is
// returned exactly once at mint time; the datastore keeps a salted
// hash only.
type AuthSrv interface {
	// MintToken creates a token and returns (tokenID, clearSecret).
	MintToken(ctx context.Context, name string, scope jwt.Scope) (string, string, error)
	// VerifySecret checks a presented secret against the named token
	// and returns its scope.
	VerifySecret(ctx context.Context, name, secret string) (jwt.Scope, error)
	RevokeToken(ctx context.Context, name string) error
	// IssueJWT exchanges a verified token for a signed, expiring JWT.
	IssueJWT(ctx context.Context, name, secret, signingSecret string, expiration time.Duration) (string, error)
}

type authSrv struct{ *service }

var _ AuthSrv = (*authSrv)(nil)

func (a *authSrv) MintToken(ctx context.Context, name string, scope jwt.Scope) (string, string, error) {
	switch scope {
	case jwt.ScopeRead, jwt.ScopeWrite, jwt.ScopeAdmin:
	default:
		return "", "", errors.WithCode(code.ErrInvariantViolation, "unrecognized scope %q", scope)
	}

	secret, err := passwd.GenerateSalt() // 32 hex chars of entropy
	if err != nil {
		return "", "", errors.WithCode(code.ErrCryptoKeyGenFailed, "%s", err.Error())
	}
	salt, err := passwd.GenerateSalt()
	if err != nil {
		return "", "", errors.WithCode(code.ErrCryptoKeyGenFailed, "%s", err.Error())
	}
	hash, err := passwd.HashSecret(secret, salt)
	if err != nil {
		return "", "", errors.WithCode(code.ErrCryptoKeyGenFailed, "%s", err.Error())
	}
	id, err := snowflake.GenerateID()
	if err != nil {
		return "", "", errors.WithCode(code.ErrStoreWriteFailed, "generate id: %s", err.Error())
	}

	t := &model.APIToken{
		ID:         id,
		Name:       name,
		Scope:      string(scope),
		Salt:       salt,
		SecretHash: hash,
	}
	err = a.mutate(ctx, audit.EntryInput{
		EventType: model.EventAddPeer,
		Category:  "auth",
		Severity:  "notice",
		EntityID:  t.ID,
		Details:   map[string]string{"token": name, "scope": string(scope)},
	}, func(ctx context.Context) error {
		return a.store.APITokens().Create(ctx, t)
	})
	if err != nil {
		return "", "", err
	}
	return t.ID, secret, nil
}

func (a *authSrv) VerifySecret(ctx context.Context, name, secret string) (jwt.Scope, error) {
	t, err := a.store.APITokens().GetByName(ctx, name)
	if err != nil {
		return "", errors.WithCode(code.ErrDeployAuthFailed, "unknown token %q", name)
	}
	if t.Revoked || !passwd.VerifySecret(secret, t.Salt, t.SecretHash) {
		return "", errors.WithCode(code.ErrDeployAuthFailed, "token %q rejected", name)
	}
	now := time.Now().UTC()
	t.LastUsedAt = &now
	_ = a.store.Writer().Do(ctx, func(ctx context.Context) error {
		return a.store.APITokens().Update(ctx, t)
	})
	return jwt.Scope(t.Scope), nil
}

func (a *authSrv) RevokeToken(ctx context.Context, name string) error {
	return a.mutate(ctx, audit.EntryInput{
		EventType: model.EventRemovePeer,
		Category:  "auth",
		Severity:  "notice",
		Details:   map[string]string{"token": name},
	}, func(ctx context.Context) error {
		t, err := a.store.APITokens().GetByName(ctx, name)
		if err != nil {
			return err
		}
		t.Revoked = true
		return a.store.APITokens().Update(ctx, t)
	})
}

func (a *authSrv) IssueJWT(ctx context.Context, name, secret, signingSecret string, expiration time.Duration) (string, error) {
	scope, err := a.VerifySecret(ctx, name, secret)
	if err != nil {
		return "", err
	}
	t, err := a.store.APITokens().GetByName(ctx, name)
	if err != nil {
		return "", err
	}
	return jwt.GenerateToken(t.ID, scope, signingSecret, expiration)
}
