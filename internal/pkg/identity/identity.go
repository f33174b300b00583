// Package identity implements the permanent-GUID identity system:
// the first public key ever observed for a keyed entity is frozen as
// its permanent_guid for the entity's lifetime, independent of later
// key rotations. Key rotation
// itself is a small pure transform; callers are responsible for
// persisting the resulting KeyRotationHistory row in the same
// transaction as the entity update.
package identity

import (
	"time"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/pkg/wireguard/wgcrypto"
	"github.com/google/uuid"
)

// Assign derives the permanent_guid for a freshly-created keyed entity:
// the first persisted public key, verbatim. Called once, at first
// persistence.
func Assign(currentPublicKey string) string {
	return currentPublicKey
}

// RotationResult is the outcome of a key rotation: new key material
// plus the history row to persist alongside the entity update.
type RotationResult struct {
	NewPrivateKey string
	NewPublicKey  string
	History       *model.KeyRotationHistory
}

// Rotate generates a fresh key pair for entityKind/entityID, leaving
// permanentGUID unchanged, and returns both the new key material and
// the KeyRotationHistory row recording the transition. The caller
// persists entity + history atomically.
func Rotate(entityKind model.EntityKind, entityID, permanentGUID, oldPublicKey, reason string) (*RotationResult, error) {
	priv, pub, err := wgcrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &RotationResult{
		NewPrivateKey: priv,
		NewPublicKey:  pub,
		History: &model.KeyRotationHistory{
			ID:            uuid.NewString(),
			EntityKind:    entityKind,
			EntityID:      entityID,
			PermanentGUID: permanentGUID,
			OldPublicKey:  oldPublicKey,
			NewPublicKey:  pub,
			RotatedAt:     time.Now().UTC(),
			Reason:        reason,
		},
	}, nil
}

// Redact returns a short, log-safe prefix of a secret value (private
// key or PSK); secrets are never logged or printed in full.
func Redact(secret string) string {
	const keep = 6
	if len(secret) <= keep {
		return "***"
	}
	return secret[:keep] + "…"
}
