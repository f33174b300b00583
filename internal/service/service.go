// Package service is the operation layer every external surface (CLI,
// daemon, failover controller) calls into. Each mutating operation is
// one unit: it runs inside one datastore transaction on the single
// writer, emits one audit entry in that same transaction, and publishes
// one event to the in-process bus for the alert/webhook/metrics
// subscribers.
package service

import (
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/journal"
	"github.com/fleetkeeper/fleetkeeper/internal/store"
)

type Service interface {
	Mesh() MeshSrv
	Importer() ImportSrv
	Generator() GenerateSrv
	Deployer() DeploySrv
	Failover() FailoverSrv
	Extramural() ExtramuralSrv
	Hosts() SSHHostSrv
	Audit() AuditSrv
	Backup() BackupSrv
	Auth() AuthSrv
	Status() StatusSrv

	// Bus is the journal event bus; callers attach subscribers (alert
	// dispatcher, metrics collector) before operations begin.
	Bus() *journal.Bus
}

type service struct {
	store    store.Factory
	bus      *journal.Bus
	operator string
	source   string // "cli" or "api", recorded as operator_source on audit entries

	fo foState
}

// NewService builds the service layer over one datastore. operator is
// the acting identity (typically $USER for the CLI, the token name for
// the API); source tags where the operation came from.
func NewService(f store.Factory, bus *journal.Bus, operator, source string) Service {
	if bus == nil {
		bus = journal.NewBus()
	}
	return &service{store: f, bus: bus, operator: operator, source: source}
}

func (s *service) Mesh() MeshSrv             { return &meshSrv{s} }
func (s *service) Importer() ImportSrv       { return &importSrv{s} }
func (s *service) Generator() GenerateSrv    { return &generateSrv{s} }
func (s *service) Deployer() DeploySrv       { return &deploySrv{s} }
func (s *service) Failover() FailoverSrv     { return &failoverSrv{s} }
func (s *service) Extramural() ExtramuralSrv { return &extramuralSrv{s} }
func (s *service) Hosts() SSHHostSrv         { return &sshHostSrv{s} }
func (s *service) Audit() AuditSrv           { return &auditSrv{s} }
func (s *service) Backup() BackupSrv         { return &backupSrv{s} }
func (s *service) Auth() AuthSrv             { return &authSrv{s} }
func (s *service) Status() StatusSrv         { return &statusSrv{s} }

// Bus exposes the event bus so callers can attach subscribers
// (alert dispatcher, metrics collector) before operations begin.
func (s *service) Bus() *journal.Bus { return s.bus }
