package capture

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-paynotify/internal/classifier"
)

type PackageStore interface {
	MonitoredPackages(ctx context.Context) ([]string, error)
	ReplaceMonitoredPackages(ctx context.Context, packages []string) error
}

// Allowlist is the set of package names whose notifications are captured.
// Until the first sync it holds the classifier's built-in packages.
type Allowlist struct {
	store PackageStore

	mu  sync.RWMutex
	set map[string]struct{}
}

func LoadAllowlist(ctx context.Context, store PackageStore) (*Allowlist, error) {
	pkgs, err := store.MonitoredPackages(ctx)
	if err != nil {
		return nil, fmt.Errorf("load allowlist: %w", err)
	}
	if len(pkgs) == 0 {
		pkgs = classifier.DefaultPackages()
	}
	a := &Allowlist{store: store}
	a.set = toSet(pkgs)
	return a, nil
}

func (a *Allowlist) Contains(packageName string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.set[normalize(packageName)]
	return ok
}

func (a *Allowlist) Packages() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.set))
	for p := range a.set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Replace persists pkgs and then swaps the in-memory set. An empty list is
// ignored so a bad sync cannot switch capture off.
func (a *Allowlist) Replace(ctx context.Context, pkgs []string) error {
	set := toSet(pkgs)
	if len(set) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(set))
	for p := range set {
		normalized = append(normalized, p)
	}
	if err := a.store.ReplaceMonitoredPackages(ctx, normalized); err != nil {
		return fmt.Errorf("persist allowlist: %w", err)
	}
	a.mu.Lock()
	a.set = set
	a.mu.Unlock()
	return nil
}

func toSet(pkgs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(pkgs))
	for _, p := range pkgs {
		if p = normalize(p); p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

func normalize(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
