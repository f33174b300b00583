// Package store declares the repository interfaces the datastore
// exposes to the service layer. internal/store/sqlite is the only
// implementation shipped, but the service layer depends only on these
// interfaces.
package store

import "context"

// Factory aggregates every repository. A single Factory instance owns
// one underlying *gorm.DB / one datastore file; multi-tenancy is
// expressed as multiple Factory instances over different working
// directories.
type Factory interface {
	CoordinationServers() CoordinationServerStore
	SubnetRouters() SubnetRouterStore
	Remotes() RemoteStore
	ExitNodes() ExitNodeStore
	ExitGroups() ExitGroupStore
	SSHHosts() SSHHostStore
	Sponsors() SponsorStore
	LocalPeers() LocalPeerStore
	Extramural() ExtramuralStore
	Audit() AuditStore
	Encryption() EncryptionStore
	APITokens() APITokenStore

	// Writer serializes every mutating call onto one worker. Readers call repository
	// methods directly; mutations go through Writer.Do so that, e.g.,
	// concurrent failover decisions cannot interleave.
	Writer() Writer

	Close() error
}

// Writer runs fn exclusively with respect to every other call
// submitted through the same Writer, in submission order.
type Writer interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}
