package service

import (
	"context"

	"github.com/HappyLadySauce/errors"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/audit"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/pkg/utils/snowflake"
)

// SSHHostSrv manages the shared SSH host resource. Hosts are never
// cascade-deleted: removing one set-nulls the entities referencing it.
type SSHHostSrv interface {
	Add(ctx context.Context, h *model.SSHHost) (*model.SSHHost, error)
	Get(ctx context.Context, id string) (*model.SSHHost, error)
	GetByName(ctx context.Context, name string) (*model.SSHHost, error)
	List(ctx context.Context) ([]*model.SSHHost, error)
	Update(ctx context.Context, h *model.SSHHost) error
	Remove(ctx context.Context, id string) error
}

type sshHostSrv struct{ *service }

var _ SSHHostSrv = (*sshHostSrv)(nil)

func (s *sshHostSrv) Add(ctx context.Context, h *model.SSHHost) (*model.SSHHost, error) {
	if h.Name == "" || h.Host == "" || h.User == "" {
		return nil, errors.WithCode(code.ErrInvariantViolation, "SSH host needs a name, host, and user")
	}
	if h.Port == 0 {
		h.Port = 22
	}
	if h.RemoteDir == "" {
		h.RemoteDir = "/etc/wireguard"
	}
	if h.ID == "" {
		id, err := snowflake.GenerateID()
		if err != nil {
			return nil, errors.WithCode(code.ErrStoreWriteFailed, "generate id: %s", err.Error())
		}
		h.ID = id
	}
	if errs := h.Validate(); len(errs) != 0 {
		return nil, errors.WithCode(code.ErrInvariantViolation, "%s", errs.ToAggregate().Error())
	}

	err := s.mutate(ctx, audit.EntryInput{
		EventType: model.EventAddPeer,
		Category:  "ssh",
		Severity:  "info",
		EntityID:  h.ID,
		Details:   map[string]string{"name": h.Name, "host": h.Host},
	}, func(ctx context.Context) error {
		return s.store.SSHHosts().Create(ctx, h)
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *sshHostSrv) Get(ctx context.Context, id string) (*model.SSHHost, error) {
	return s.store.SSHHosts().Get(ctx, id)
}

func (s *sshHostSrv) GetByName(ctx context.Context, name string) (*model.SSHHost, error) {
	return s.store.SSHHosts().GetByName(ctx, name)
}

func (s *sshHostSrv) List(ctx context.Context) ([]*model.SSHHost, error) {
	return s.store.SSHHosts().List(ctx)
}

func (s *sshHostSrv) Update(ctx context.Context, h *model.SSHHost) error {
	return s.mutate(ctx, audit.EntryInput{
		EventType: model.EventAddPeer,
		Category:  "ssh",
		Severity:  "info",
		EntityID:  h.ID,
		Details:   map[string]string{"name": h.Name, "operation": "update"},
	}, func(ctx context.Context) error {
		return s.store.SSHHosts().Update(ctx, h)
	})
}

func (s *sshHostSrv) Remove(ctx context.Context, id string) error {
	return s.mutate(ctx, audit.EntryInput{
		EventType: model.EventRemovePeer,
		Category:  "ssh",
		Severity:  "notice",
		EntityID:  id,
	}, func(ctx context.Context) error {
		return s.store.SSHHosts().Delete(ctx, id)
	})
}
