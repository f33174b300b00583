// Package authz decides which bearer-token scope may invoke which
// service-layer operation. The AllowedIPs computation itself lives in
// internal/pkg/policy and is untouched by this package: authz governs
// who may call, not what the call computes.
package authz

import (
	"bufio"
	_ "embed"
	"strings"
	"sync"

	casbin "github.com/casbin/casbin/v3"
	"github.com/casbin/casbin/v3/model"
	"github.com/casbin/casbin/v3/persist"
	"k8s.io/klog/v2"
)

//go:embed model.conf
var modelConf []byte

//go:embed policy.csv
var policyCsv []byte

// stringAdapter loads the embedded policy file; the policy set is
// fixed at build time and never written back.
type stringAdapter struct {
	policyText string
}

func (a *stringAdapter) LoadPolicy(m model.Model) error {
	scanner := bufio.NewScanner(strings.NewReader(a.policyText))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		persist.LoadPolicyLine(line, m)
	}
	return scanner.Err()
}

func (a *stringAdapter) SavePolicy(m model.Model) error { return nil }

func (a *stringAdapter) AddPolicy(sec string, ptype string, rule []string) error { return nil }

func (a *stringAdapter) RemovePolicy(sec string, ptype string, rule []string) error { return nil }

func (a *stringAdapter) RemoveFilteredPolicy(sec string, ptype string, fieldIndex int, fieldValues ...string) error {
	return nil
}

var (
	once     sync.Once
	enforcer *casbin.Enforcer
	initErr  error
)

func getEnforcer() (*casbin.Enforcer, error) {
	once.Do(func() {
		m, err := model.NewModelFromString(string(modelConf))
		if err != nil {
			klog.V(1).InfoS("failed to load casbin model", "error", err)
			initErr = err
			return
		}
		e, err := casbin.NewEnforcer(m, &stringAdapter{policyText: string(policyCsv)})
		if err != nil {
			klog.V(1).InfoS("failed to create casbin enforcer", "error", err)
			initErr = err
			return
		}
		enforcer = e
	})
	return enforcer, initErr
}

// Allowed reports whether scope may perform act on obj.
func Allowed(scope, obj, act string) bool {
	e, err := getEnforcer()
	if err != nil {
		return false
	}
	ok, err := e.Enforce(scope, obj, act)
	if err != nil {
		klog.V(1).InfoS("casbin enforce failed", "scope", scope, "obj", obj, "act", act, "error", err)
		return false
	}
	return ok
}
