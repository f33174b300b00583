// Package model defines the semantic data model: the typed
// entities of the control plane and their relations. Generated
// config files are derived artifacts; these structs are the single
// source of truth, persisted by internal/store/sqlite.
package model

import "time"

// AccessLevel is the policy tag on a Remote that determines the
// AllowedIPs the generator writes into the remote's peer list.
type AccessLevel string

const (
	AccessFullAccess AccessLevel = "full_access"
	AccessVPNOnly    AccessLevel = "vpn_only"
	AccessLANOnly    AccessLevel = "lan_only"
	AccessCustom     AccessLevel = "custom"
	AccessExitOnly   AccessLevel = "exit_only"
)

// ExitStrategy is the selection strategy for an ExitGroup.
type ExitStrategy string

const (
	StrategyPriority   ExitStrategy = "priority"
	StrategyRoundRobin ExitStrategy = "round_robin"
	StrategyLatency    ExitStrategy = "latency"
)

// ExitHealthState is the circuit-breaker state of an exit node.
type ExitHealthState string

const (
	HealthHealthy  ExitHealthState = "healthy"
	HealthDegraded ExitHealthState = "degraded"
	HealthFailed   ExitHealthState = "failed"
)

// CoordinationServer is the public hub of the topology (CS in the
// glossary). Exactly one per datastore in the default topology.
type CoordinationServer struct {
	ID               string `gorm:"primaryKey"`
	Hostname         string `gorm:"uniqueIndex;not null"`
	PublicEndpoint   string `gorm:"not null"`
	V4CIDR           string `gorm:"column:v4_cidr"`
	V6CIDR           string `gorm:"column:v6_cidr"`
	V4Address        string `gorm:"column:v4_address"`
	V6Address        string `gorm:"column:v6_address"`
	PermanentGUID    string `gorm:"uniqueIndex;not null"`
	PrivateKey       string `gorm:"not null"` // encryption-wrapper managed at repository boundary
	CurrentPublicKey string `gorm:"not null"`
	ListenPort       int    `gorm:"not null"`
	MTU              int
	SSHHostID        *string
	PeerOrder        []string `gorm:"-"` // materialized from PeerOrderEntry rows by the store

	// PeerGapLines is the blank-lines-between-peers formatting profile
	// captured on import, so regenerated files keep the operator's
	// original spacing. Zero means the canonical single blank line.
	PeerGapLines int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PeerOrderEntry is one row of the CS's total peer ordering.
// EntityKind + EntityID identify the referenced SNR/Remote/Exit.
type PeerOrderEntry struct {
	ID         string     `gorm:"primaryKey"`
	CSID       string     `gorm:"index;not null"`
	EntityKind EntityKind `gorm:"not null"`
	EntityID   string     `gorm:"not null"`
	Position   int        `gorm:"not null"`
}

// EntityKind tags which concrete shape a peer reference resolves to:
// a CS peer entry is never a single wide nullable struct, it is always
// exactly one of these three kinds (plus Extramural, handled
// separately since extramural peers never sit in a CS peer order).
type EntityKind string

const (
	EntitySubnetRouter EntityKind = "subnet_router"
	EntityRemote       EntityKind = "remote"
	EntityExitNode     EntityKind = "exit_node"
)

// SubnetRouter advertises LAN CIDRs into the VPN (SNR in the glossary).
type SubnetRouter struct {
	ID               string `gorm:"primaryKey"`
	CSID             string `gorm:"index;not null"`
	Hostname         string `gorm:"not null"`
	VPNAddress       string `gorm:"uniqueIndex;not null"`
	PermanentGUID    string `gorm:"uniqueIndex;not null"`
	PrivateKey       string
	CurrentPublicKey string `gorm:"not null"`
	PublicEndpoint   string
	HasEndpoint      bool
	AdvertisedLANs   []string `gorm:"-"`        // materialized from SubnetRouterLAN rows
	AllowedIPs       string   `gorm:"not null"` // exact value written into the CS's peer block
	SSHHostID        *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubnetRouterLAN is one ordered LAN CIDR advertised by an SNR.
type SubnetRouterLAN struct {
	ID       string `gorm:"primaryKey"`
	SNRID    string `gorm:"index;not null"`
	CIDR     string `gorm:"not null"`
	Position int    `gorm:"not null"`
}

// Remote is a client peer with no advertised LAN.
type Remote struct {
	ID               string `gorm:"primaryKey"`
	CSID             string `gorm:"index;not null"`
	Hostname         string `gorm:"not null"`
	VPNAddressV4     string
	VPNAddressV6     string
	PermanentGUID    string      `gorm:"uniqueIndex;not null"`
	PrivateKey       string      // optional: a "provisional" peer may lack this
	CurrentPublicKey string      `gorm:"not null"`
	AccessLevel      AccessLevel `gorm:"not null"`
	LANSubsetJSON    string      // for lan_only: encoded subset of SNR LANs
	LANSubset        []string    `gorm:"-"` // decoded from LANSubsetJSON by the store
	CustomAllowedIPs string      // for access_level=custom
	ExitNodeID       *string
	ExitGroupID      *string
	ActiveExitID     *string // current failover assignment, may differ from a static ExitNodeID
	PSK              string  // optional, encrypted at rest
	LastRotatedAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExitNode NATs remote traffic to the Internet.
type ExitNode struct {
	ID               string `gorm:"primaryKey"`
	CSID             string `gorm:"index;not null"`
	Hostname         string `gorm:"not null"`
	PublicEndpoint   string `gorm:"not null"`
	ListenPort       int    `gorm:"not null"`
	VPNAddress       string `gorm:"uniqueIndex;not null"`
	PermanentGUID    string `gorm:"uniqueIndex;not null"`
	PrivateKey       string
	CurrentPublicKey string `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExitGroup is a named set of exit nodes with a selection strategy.
type ExitGroup struct {
	ID                  string       `gorm:"primaryKey"`
	Name                string       `gorm:"uniqueIndex;not null"`
	Strategy            ExitStrategy `gorm:"not null"`
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExitGroupMember is one (exit_node, static_priority, weight, enabled)
// row owned by an ExitGroup.
type ExitGroupMember struct {
	ID                 string `gorm:"primaryKey"`
	GroupID            string `gorm:"index;not null"`
	ExitNodeID         string `gorm:"index;not null"`
	StaticPriority     int    `gorm:"not null"`
	PriorityAdjustment int
	Weight             int  `gorm:"not null;default:1"`
	Enabled            bool `gorm:"not null;default:true"`
}

// ExitHealth is the one-row-per-exit-node circuit breaker state.
type ExitHealth struct {
	ExitNodeID           string          `gorm:"primaryKey"`
	State                ExitHealthState `gorm:"not null"`
	LastCheckAt          *time.Time
	LatencyMS            *float64
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastSuccessAt        *time.Time
	LastFailureAt        *time.Time
	FailureReason        string

	// RecentLatenciesMS is a bounded rolling window used by the
	// latency strategy's median computation; persisted as JSON in
	// RecentLatenciesJSON.
	RecentLatenciesJSON string
	RecentLatenciesMS   []float64 `gorm:"-"`
}

// FailoverHistory is an append-only row recording a reassignment.
type FailoverHistory struct {
	ID            string `gorm:"primaryKey"`
	RemoteID      string `gorm:"index;not null"`
	GroupID       string `gorm:"index;not null"`
	FromExitID    *string
	ToExitID      string `gorm:"not null"`
	TriggerReason string `gorm:"not null"`
	Success       bool
	ErrorMessage  string
	Timestamp     time.Time `gorm:"index;not null"`
}

// NoExitSentinel is the synthetic "to" value recorded when no healthy
// member exists in a group: remotes fall back to no exit peer.
const NoExitSentinel = ""

// SSHHost is a shared, reference-counted (via set-null FKs) deployment
// target credential.
type SSHHost struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	Host      string `gorm:"not null"`
	Port      int    `gorm:"not null;default:22"`
	User      string `gorm:"not null"`
	KeyPath   string
	RemoteDir string `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Sponsor is a commercial/employer VPN provider for extramural configs.
type Sponsor struct {
	ID      string `gorm:"primaryKey"`
	Name    string `gorm:"uniqueIndex;not null"`
	Website string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LocalPeer is the operator-side identity used across extramural configs.
type LocalPeer struct {
	ID            string `gorm:"primaryKey"`
	PermanentGUID string `gorm:"uniqueIndex;not null"`
	Name          string `gorm:"uniqueIndex;not null"`
	SSHHostID     *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExtramuralConfig configures an external WireGuard service where the
// operator controls only the local side.
type ExtramuralConfig struct {
	ID                  string `gorm:"primaryKey"`
	LocalPeerID         string `gorm:"uniqueIndex:idx_extramural_unique;not null"`
	SponsorID           string `gorm:"uniqueIndex:idx_extramural_unique;not null"`
	PermanentGUID       string `gorm:"uniqueIndex;not null"`
	PrivateKey          string `gorm:"not null"`
	CurrentPublicKey    string `gorm:"not null"`
	AssignedV4          string
	AssignedV6          string
	DNS                 string
	MTU                 int
	ListenPort          *int
	InterfaceName       string `gorm:"not null"` // e.g. "wg-mullvad"
	PendingRemoteUpdate bool
	LastDeployedAt      *time.Time
	LastKeyRotationAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExtramuralPeer is one sponsor-side peer entry for an ExtramuralConfig.
// The datastore enforces "exactly one active peer per config" via a
// trigger (see internal/store/sqlite/migrations).
type ExtramuralPeer struct {
	ID         string `gorm:"primaryKey"`
	ConfigID   string `gorm:"index;not null"`
	Name       string `gorm:"not null"`
	PublicKey  string `gorm:"not null"`
	Endpoint   string `gorm:"not null"`
	AllowedIPs string `gorm:"not null"`
	PSK        string
	Keepalive  *int
	IsActive   bool `gorm:"not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CommandDirection is PostUp or PostDown.
type CommandDirection string

const (
	DirPostUp   CommandDirection = "PostUp"
	DirPostDown CommandDirection = "PostDown"
)

// CommandOwnerKind identifies which entity a CommandPair is attached to.
type CommandOwnerKind string

const (
	OwnerCS         CommandOwnerKind = "coordination_server"
	OwnerSNR        CommandOwnerKind = "subnet_router"
	OwnerExit       CommandOwnerKind = "exit_node"
	OwnerExtramural CommandOwnerKind = "extramural_config"
)

// CommandTemplate is the name of a known, system-originated shell
// command template. An empty Template means the command is
// a foreign, verbatim string that fleetkeeper never interprets.
type CommandTemplate string

const (
	TemplateNone          CommandTemplate = ""
	TemplateExitNAT       CommandTemplate = "exit_nat"
	TemplateSNRForwarding CommandTemplate = "snr_forwarding"
	TemplateMSSClamp      CommandTemplate = "mss_clamp"
)

// CommandPair is one PostUp/PostDown row attached to a CS, SNR, exit,
// or extramural config, preserved verbatim unless it matches a known
// template, in which case it is re-rendered from Params on write.
type CommandPair struct {
	ID         string           `gorm:"primaryKey"`
	OwnerKind  CommandOwnerKind `gorm:"not null"`
	OwnerID    string           `gorm:"not null"`
	Direction  CommandDirection `gorm:"not null"`
	Sequence   int              `gorm:"not null"`
	Text       string           `gorm:"not null"` // verbatim shell string
	Template   CommandTemplate
	ParamsJSON string            // encoded template parameters
	Params     map[string]string `gorm:"-"` // decoded from ParamsJSON by the store
}

// KeyRotationHistory records one key rotation event. entity_id
// is scoped by EntityKind since IDs are not globally unique across
// entity tables.
type KeyRotationHistory struct {
	ID            string     `gorm:"primaryKey"`
	EntityKind    EntityKind `gorm:"index;not null"`
	EntityID      string     `gorm:"index;not null"`
	PermanentGUID string     `gorm:"index;not null"`
	OldPublicKey  string     `gorm:"not null"`
	NewPublicKey  string     `gorm:"not null"`
	RotatedAt     time.Time  `gorm:"not null"`
	Reason        string
}

// AuditEventType enumerates the state-changing operations that emit an
// audit entry.
type AuditEventType string

const (
	EventAddPeer                    AuditEventType = "add_peer"
	EventRemovePeer                 AuditEventType = "remove_peer"
	EventRotateKeys                 AuditEventType = "rotate_keys"
	EventChangeAccessLevel          AuditEventType = "change_access_level"
	EventAttachExit                 AuditEventType = "attach_exit"
	EventDeploy                     AuditEventType = "deploy"
	EventSwitchActiveExtramuralPeer AuditEventType = "switch_active_extramural_peer"
	EventAssignExit                 AuditEventType = "assign_exit"
	EventFailover                   AuditEventType = "failover"
	EventPassphraseChange           AuditEventType = "passphrase_change"
)

// AuditEntry is one append-only, hash-chained row.
type AuditEntry struct {
	ID                  int64          `gorm:"primaryKey;autoIncrement"`
	EventType           AuditEventType `gorm:"not null"`
	Category            string
	Severity            string
	EntityType          EntityKind
	EntityID            string
	EntityPermanentGUID string
	Operator            string
	OperatorSource      string
	DetailsJSON         string    `gorm:"not null"` // canonical(details)
	Timestamp           time.Time `gorm:"not null"`
	PreviousHash        string    `gorm:"not null"`
	EntryHash           string    `gorm:"not null"`
	MerkleRoot          string
	MerkleTreeIndex     *int
}

// AuditCheckpoint is a Merkle root computed over a contiguous range of
// audit entries, stored every N entries (default 1000).
type AuditCheckpoint struct {
	ID         string `gorm:"primaryKey"`
	FromID     int64  `gorm:"not null"`
	ToID       int64  `gorm:"not null"`
	MerkleRoot string `gorm:"not null"`
	CreatedAt  time.Time
}

// EncryptionMetadata is the singleton row holding KDF parameters, a
// salt, and a ciphertext canary for passphrase verification.
type EncryptionMetadata struct {
	ID          int  `gorm:"primaryKey"` // always 1
	Enabled     bool `gorm:"not null;default:false"`
	KDFSalt     string
	KDFN        int
	KDFR        int
	KDFP        int
	CanaryNonce string
	Canary      string // ciphertext of a known plaintext, proves passphrase correctness
}
