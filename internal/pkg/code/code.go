// Package code is the central error-code registry for fleetkeeper:
// every code maps to an HTTP-ish status and a human message, and callers wrap
// errors with github.com/HappyLadySauce/errors#WithCode so the CLI and
// HTTP surface can both report a consistent (kind, message) pair.
package code

import (
	"sync"

	"github.com/HappyLadySauce/errors"
)

// Kind groups codes into the taxonomy from the error-handling design:
// ParseError, ValidationError, NotFound, Conflict, IntegrityError,
// IOError, NetworkError, AuthError, CryptoError, Fatal.
type Kind string

const (
	KindParse      Kind = "ParseError"
	KindValidation Kind = "ValidationError"
	KindNotFound   Kind = "NotFound"
	KindConflict   Kind = "Conflict"
	KindIntegrity  Kind = "IntegrityError"
	KindIO         Kind = "IOError"
	KindNetwork    Kind = "NetworkError"
	KindAuth       Kind = "AuthError"
	KindCrypto     Kind = "CryptoError"
	KindFatal      Kind = "Fatal"
)

type entry struct {
	status  int
	message string
	kind    Kind
}

var (
	mu       sync.RWMutex
	registry = map[int]entry{}
)

// coder adapts an entry to the errors library's Coder interface so
// errors.ParseCoder resolves codes wrapped with errors.WithCode.
type coder struct {
	code   int
	status int
	msg    string
}

func (c coder) Code() int         { return c.code }
func (c coder) String() string    { return c.msg }
func (c coder) Reference() string { return "" }
func (c coder) HTTPStatus() int   { return c.status }

func register(c int, status int, kind Kind, message string) int {
	mu.Lock()
	defer mu.Unlock()
	registry[c] = entry{status: status, message: message, kind: kind}
	errors.MustRegister(coder{code: c, status: status, msg: message})
	return c
}

// Message returns the registered message for a code, or "".
func Message(c int) string {
	mu.RLock()
	defer mu.RUnlock()
	return registry[c].message
}

// KindOf returns the taxonomy kind a code belongs to.
func KindOf(c int) Kind {
	mu.RLock()
	defer mu.RUnlock()
	return registry[c].kind
}

// ExitCode maps an error to the CLI exit-code contract: 0 success,
// 1 user error, 2 validation failure, 3 I/O or network failure,
// 4 integrity failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(errors.ParseCoder(err).Code()) {
	case KindParse, KindValidation, KindCrypto:
		return 2
	case KindIO, KindNetwork:
		return 3
	case KindIntegrity, KindFatal:
		return 4
	default:
		return 1
	}
}

// Lookup returns the registered status/kind/message for a code, if any.
func Lookup(c int) (status int, kind Kind, message string, ok bool) {
	mu.RLock()
	defer mu.RUnlock()
	e, ok := registry[c]
	return e.status, e.kind, e.message, ok
}

// Parser errors: 130001-130099.
const (
	ErrParseUnterminatedSection int = iota + 130001
	ErrParseDuplicateInterface
	ErrParseKeyWrongSection
	ErrParseUnknownField
)

// Model / invariant errors: 131001-131099.
const (
	ErrInvariantViolation int = iota + 131001
	ErrAddressExhausted
	ErrAddressInUse
	ErrKeyInvalid
	ErrExitRequired
	ErrEndpointOrAddressRequired
)

// Datastore errors: 132001-132099.
const (
	ErrStoreNotInitialized int = iota + 132001
	ErrStoreMigrationFailed
	ErrStoreWriteFailed
	ErrStoreReadFailed
	ErrStoreNotFound
	ErrStoreConflict
)

// Identity / audit errors: 133001-133099.
const (
	ErrIntegrityTampered int = iota + 133001
	ErrGUIDCollision
	ErrCryptoKeyGenFailed
	ErrCryptoKeyInvalid
	ErrEncryptionFailed
	ErrDecryptionFailed
	ErrPassphraseIncorrect
)

// Generator errors: 134001-134099.
const (
	ErrGenerateNoExitAttached int = iota + 134001
	ErrGenerateMissingPrivateKey
	ErrGenerateNoActivePeer
)

// Policy errors: 135001-135099.
const (
	ErrPolicyExitRequired int = iota + 135001
	ErrPolicyInvalidAccessLevel
)

// Deployer errors: 136001-136099.
const (
	ErrDeployConnectFailed int = iota + 136001
	ErrDeployAuthFailed
	ErrDeployWriteFailed
	ErrDeployPermissionFailed
	ErrDeployRestartFailed
	ErrDeployVerifyFailed
)

// Failover errors: 137001-137099.
const (
	ErrFailoverNoHealthyMember int = iota + 137001
	ErrFailoverGroupNotFound
)

// Journal / alert errors: 138001-138099.
const (
	ErrJournalEmitFailed int = iota + 138001
	ErrWebhookDeliveryFailed
)

func init() {
	register(ErrParseUnterminatedSection, 400, KindParse, "unterminated section in config")
	register(ErrParseDuplicateInterface, 400, KindParse, "duplicate [Interface] section")
	register(ErrParseKeyWrongSection, 400, KindParse, "key present in wrong section")
	register(ErrParseUnknownField, 400, KindParse, "unknown field (strict mode)")

	register(ErrInvariantViolation, 422, KindValidation, "invariant violation")
	register(ErrAddressExhausted, 422, KindValidation, "no available VPN address in range")
	register(ErrAddressInUse, 409, KindConflict, "VPN address already in use")
	register(ErrKeyInvalid, 422, KindValidation, "invalid WireGuard key")
	register(ErrExitRequired, 422, KindValidation, "exit_only access level requires an exit node or group")
	register(ErrEndpointOrAddressRequired, 422, KindValidation, "peer requires an endpoint or an address")

	register(ErrStoreNotInitialized, 500, KindIO, "datastore not initialized")
	register(ErrStoreMigrationFailed, 500, KindIO, "migration failed")
	register(ErrStoreWriteFailed, 500, KindIO, "datastore write failed")
	register(ErrStoreReadFailed, 500, KindIO, "datastore read failed")
	register(ErrStoreNotFound, 404, KindNotFound, "entity not found")
	register(ErrStoreConflict, 409, KindConflict, "duplicate key, address, or hostname")

	register(ErrIntegrityTampered, 500, KindIntegrity, "audit hash chain mismatch")
	register(ErrGUIDCollision, 409, KindConflict, "permanent_guid collision")
	register(ErrCryptoKeyGenFailed, 500, KindCrypto, "key generation failed")
	register(ErrCryptoKeyInvalid, 422, KindCrypto, "invalid key material")
	register(ErrEncryptionFailed, 500, KindCrypto, "encryption failed")
	register(ErrDecryptionFailed, 401, KindCrypto, "decryption failed: wrong passphrase or corrupt ciphertext")
	register(ErrPassphraseIncorrect, 401, KindCrypto, "passphrase does not match stored canary")

	register(ErrGenerateNoExitAttached, 422, KindValidation, "exit_only remote has no exit node attached")
	register(ErrGenerateMissingPrivateKey, 422, KindValidation, "entity has no private key to render an [Interface] block")
	register(ErrGenerateNoActivePeer, 422, KindValidation, "extramural config has no active peer")

	register(ErrPolicyExitRequired, 422, KindValidation, "exit_only access level requires exit_node_id or exit_group_id")
	register(ErrPolicyInvalidAccessLevel, 422, KindValidation, "unrecognized access level")

	register(ErrDeployConnectFailed, 503, KindNetwork, "failed to connect to deployment target")
	register(ErrDeployAuthFailed, 401, KindAuth, "SSH authentication failed")
	register(ErrDeployWriteFailed, 500, KindIO, "failed to write target configuration")
	register(ErrDeployPermissionFailed, 500, KindIO, "failed to set target file permissions")
	register(ErrDeployRestartFailed, 500, KindNetwork, "failed to restart WireGuard interface")
	register(ErrDeployVerifyFailed, 500, KindNetwork, "deployed interface did not verify")

	register(ErrFailoverNoHealthyMember, 503, KindFatal, "no healthy member in exit group")
	register(ErrFailoverGroupNotFound, 404, KindNotFound, "exit group not found")

	register(ErrJournalEmitFailed, 500, KindIO, "failed to record audit/journal entry")
	register(ErrWebhookDeliveryFailed, 502, KindNetwork, "webhook delivery failed")
}
