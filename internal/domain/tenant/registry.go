// Package tenant implements the multi-tenant registry: the lookup tables of
// agent and viewer credentials that every auth decision consults.
package tenant

import (
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tracelens/tracelens/internal/infrastructure/logging"
)

// tenantConfig is the wire shape of one tenant in the TENANTS_JSON blob:
//
//	{"t1": {"apps": {"checkout": "agent-key"}, "viewers": {"viewer-key": "admin"}}}
type tenantConfig struct {
	Apps    map[string]string `json:"apps"`
	Viewers map[string]string `json:"viewers"`
}

// AppBinding resolves an app name to its owning tenant and agent credential.
type AppBinding struct {
	TenantID string
	Key      string
}

// Registry holds the parsed tenant index. Immutable after Load; Replace is
// the explicit test/reset hook.
type Registry struct {
	mu      sync.RWMutex
	apps    map[string]AppBinding        // appName -> binding
	viewers map[string]map[string]string // tenantID -> viewer key -> role
	log     *logging.Logger
}

// NewRegistry parses the raw tenant configuration. A malformed blob degrades
// to an empty registry (open mode) with a warning rather than failing startup.
func NewRegistry(rawJSON string, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Nop()
	}
	r := &Registry{
		apps:    make(map[string]AppBinding),
		viewers: make(map[string]map[string]string),
		log:     log,
	}
	r.load(rawJSON)
	return r
}

func (r *Registry) load(rawJSON string) {
	raw := strings.TrimSpace(rawJSON)
	if raw == "" {
		return
	}

	var parsed map[string]tenantConfig
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		r.log.Warn("malformed tenant configuration, running unconfigured", zap.Error(err))
		return
	}

	apps := make(map[string]AppBinding)
	viewers := make(map[string]map[string]string)
	for tenantID, cfg := range parsed {
		if tenantID == "" {
			continue
		}
		for appName, key := range cfg.Apps {
			if appName == "" || key == "" {
				continue
			}
			if prev, dup := apps[appName]; dup {
				r.log.Warn("duplicate app name across tenants, keeping first",
					zap.String("app", appName),
					zap.String("tenant", prev.TenantID),
				)
				continue
			}
			apps[appName] = AppBinding{TenantID: tenantID, Key: key}
		}
		tv := make(map[string]string)
		for viewerKey, role := range cfg.Viewers {
			if viewerKey == "" {
				continue
			}
			tv[viewerKey] = role
		}
		viewers[tenantID] = tv
	}

	r.mu.Lock()
	r.apps = apps
	r.viewers = viewers
	r.mu.Unlock()

	r.log.Info("tenant registry loaded",
		zap.Int("tenants", len(viewers)),
		zap.Int("apps", len(apps)),
	)
}

// IsConfigured reports whether any tenants are defined. False flips the
// whole system into open mode.
func (r *Registry) IsConfigured() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.viewers) > 0
}

// HasTenant reports whether the tenant id is known.
func (r *Registry) HasTenant(tenantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.viewers[tenantID]
	return ok
}

// ResolveApp looks up the tenant binding for an agent app name.
func (r *Registry) ResolveApp(appName string) (AppBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.apps[appName]
	return b, ok
}

// ResolveViewer reports whether the credential is a registered viewer key
// for the tenant.
func (r *Registry) ResolveViewer(tenantID, credential string) bool {
	if credential == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tv, ok := r.viewers[tenantID]
	if !ok {
		return false
	}
	_, ok = tv[credential]
	return ok
}

// Replace swaps in a new configuration. Test/reset hook only; production
// code loads exactly once at startup.
func (r *Registry) Replace(rawJSON string) {
	r.mu.Lock()
	r.apps = make(map[string]AppBinding)
	r.viewers = make(map[string]map[string]string)
	r.mu.Unlock()
	r.load(rawJSON)
}
