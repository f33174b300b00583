package service

import (
	"context"
	"os"
	"time"

	"github.com/HappyLadySauce/errors"
	"k8s.io/klog/v2"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/audit"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/deploy"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// DeploySrv pushes generated configuration to targets and records
// every deployment in the journal. Deploy failures never roll back the
// datastore: the intended state is already recorded and the deploy is
// retryable.
type DeploySrv interface {
	// DeployCS renders and deploys the coordination server's config to
	// its SSH host (or locally when the host resolves local).
	DeployCS(ctx context.Context, csID string, opts deploy.Options) (*deploy.Result, error)
	// DeploySNR renders and deploys one subnet router's config.
	DeploySNR(ctx context.Context, snrID string, opts deploy.Options) (*deploy.Result, error)
	// DeployTarget deploys pre-rendered content to an explicit target.
	DeployTarget(ctx context.Context, target deploy.Target, content []byte, expectedPublicKey string, opts deploy.Options) (*deploy.Result, error)
}

type deploySrv struct{ *service }

var _ DeploySrv = (*deploySrv)(nil)

func (d *deploySrv) DeployCS(ctx context.Context, csID string, opts deploy.Options) (*deploy.Result, error) {
	cs, err := d.store.CoordinationServers().Get(ctx, csID)
	if err != nil {
		return nil, err
	}
	content, err := d.Generator().CSConf(ctx, csID)
	if err != nil {
		return nil, err
	}
	target, err := d.targetFor(ctx, cs.SSHHostID, cs.Hostname)
	if err != nil {
		return nil, err
	}
	return d.DeployTarget(ctx, target, []byte(content), cs.CurrentPublicKey, opts)
}

func (d *deploySrv) DeploySNR(ctx context.Context, snrID string, opts deploy.Options) (*deploy.Result, error) {
	snr, err := d.store.SubnetRouters().Get(ctx, snrID)
	if err != nil {
		return nil, err
	}
	content, err := d.Generator().SNRConf(ctx, snrID)
	if err != nil {
		return nil, err
	}
	target, err := d.targetFor(ctx, snr.SSHHostID, snr.Hostname)
	if err != nil {
		return nil, err
	}
	return d.DeployTarget(ctx, target, []byte(content), snr.CurrentPublicKey, opts)
}

func (d *deploySrv) DeployTarget(ctx context.Context, target deploy.Target, content []byte, expectedPublicKey string, opts deploy.Options) (*deploy.Result, error) {
	var transport deploy.Transport
	if target.SSHHost == nil || deploy.IsLocal(target.Host, localHostnames(), nil) {
		transport = deploy.NewLocalTransport()
	} else {
		transport = deploy.NewSSHTransport(*target.SSHHost)
	}

	res, err := deploy.Deploy(ctx, transport, target, content, expectedPublicKey, opts, time.Now())
	if err != nil {
		klog.ErrorS(err, "deployment failed", "host", target.Host, "path", target.Path)
		return nil, err
	}
	if opts.DryRun {
		return res, nil
	}

	// Step 7: record the deployment event. The file is already in
	// place; journal failure here surfaces but cannot undo the deploy.
	auditErr := d.mutate(ctx, audit.EntryInput{
		EventType: model.EventDeploy,
		Category:  "deploy",
		Severity:  "info",
		Details: map[string]string{
			"host":      target.Host,
			"path":      target.Path,
			"interface": target.Interface,
			"changed":   boolStr(res.Changed),
			"restarted": boolStr(res.Restarted),
			"backup":    res.BackupPath,
		},
	}, func(ctx context.Context) error { return nil })
	if auditErr != nil {
		klog.ErrorS(auditErr, "deployment succeeded but journal record failed", "host", target.Host)
		return res, auditErr
	}
	return res, nil
}

// targetFor resolves the deployment triple for an entity: its SSH host
// when one is referenced, the local system config directory otherwise.
// The deployer never creates SSH hosts implicitly.
func (d *deploySrv) targetFor(ctx context.Context, sshHostID *string, iface string) (deploy.Target, error) {
	ifname := "wg0"
	if iface != "" {
		ifname = iface
	}
	if sshHostID == nil {
		return deploy.Target{
			Host:      "localhost",
			Path:      "/etc/wireguard/" + ifname + ".conf",
			Interface: ifname,
		}, nil
	}
	h, err := d.store.SSHHosts().Get(ctx, *sshHostID)
	if err != nil {
		return deploy.Target{}, errors.WithCode(code.ErrStoreNotFound, "SSH host %s: %s", *sshHostID, err.Error())
	}
	dir := h.RemoteDir
	if dir == "" {
		dir = "/etc/wireguard"
	}
	return deploy.Target{
		Host:      h.Host,
		Path:      dir + "/" + ifname + ".conf",
		Interface: ifname,
		SSHHost: &deploy.SSHHostConfig{
			Host:      h.Host,
			Port:      h.Port,
			User:      h.User,
			KeyPath:   h.KeyPath,
			RemoteDir: dir,
		},
	}, nil
}

func localHostnames() []string {
	var names []string
	if hn, err := os.Hostname(); err == nil {
		names = append(names, hn)
	}
	return names
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
