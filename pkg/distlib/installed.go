package distlib

import (
	"context"
	"sort"
	"sync"

	"github.com/warpdl/warppkg/pkg/logger"
)

// InstalledRecord is one applied sub-package. A whole package is recorded
// with an empty Subpackage.
type InstalledRecord struct {
	Package     string
	AppVersion  int
	Subpackage  string
	VersionCode int
}

// InstalledStore persists InstalledRecords across restarts.
type InstalledStore interface {
	Records(ctx context.Context, pkg string) ([]InstalledRecord, error)
	// Upsert stores rec and drops records of other app versions of the
	// same package.
	Upsert(ctx context.Context, rec InstalledRecord) error
	Delete(ctx context.Context, pkg string) error
	Packages(ctx context.Context) ([]string, error)
	Close() error
}

// InstalledSubpackageManager answers "is this sub-package version applied"
// from an in-memory cache backed by an InstalledStore.
type InstalledSubpackageManager struct {
	store InstalledStore
	log   logger.Logger

	mu    sync.RWMutex
	cache map[string]map[string]int
}

// NewInstalledSubpackageManager creates a manager over store.
func NewInstalledSubpackageManager(store InstalledStore, l logger.Logger) *InstalledSubpackageManager {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &InstalledSubpackageManager{
		store: store,
		log:   l,
		cache: make(map[string]map[string]int),
	}
}

// load returns the cached versions of pkg, reading the store on a miss.
func (m *InstalledSubpackageManager) load(ctx context.Context, pkg string) map[string]int {
	m.mu.RLock()
	subs, ok := m.cache[pkg]
	m.mu.RUnlock()
	if ok {
		return subs
	}

	recs, err := m.store.Records(ctx, pkg)
	if err != nil {
		m.log.Warning("installed: read records of %s: %v", pkg, err)
		return nil
	}
	subs = make(map[string]int, len(recs))
	for _, r := range recs {
		subs[r.Subpackage] = r.VersionCode
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.cache[pkg]; ok {
		return cached
	}
	m.cache[pkg] = subs
	return subs
}

// InstalledVersion returns the applied version of a sub-package, 0 if none.
func (m *InstalledSubpackageManager) InstalledVersion(ctx context.Context, pkg, subpackage string) int {
	subs := m.load(ctx, pkg)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return subs[subpackage]
}

// AppVersion returns the highest applied version of pkg, 0 if none.
func (m *InstalledSubpackageManager) AppVersion(ctx context.Context, pkg string) int {
	subs := m.load(ctx, pkg)
	m.mu.RLock()
	defer m.mu.RUnlock()
	v := 0
	for _, code := range subs {
		v = max(v, code)
	}
	return v
}

// IsInstalled reports whether subpackage of pkg is applied at version.
func (m *InstalledSubpackageManager) IsInstalled(ctx context.Context, pkg, subpackage string, version int) bool {
	return m.InstalledVersion(ctx, pkg, subpackage) == version
}

// HasAny reports whether any version of pkg has been applied.
func (m *InstalledSubpackageManager) HasAny(ctx context.Context, pkg string) bool {
	subs := m.load(ctx, pkg)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(subs) > 0
}

// IsPackageComplete reports whether every sub-package in subs is applied
// at version. A package without sub-packages checks its whole record.
func (m *InstalledSubpackageManager) IsPackageComplete(ctx context.Context, pkg string, version int, subs []SubpackageInfo) bool {
	if len(subs) == 0 {
		return m.IsInstalled(ctx, pkg, "", version)
	}
	for _, sp := range subs {
		if !m.IsInstalled(ctx, pkg, sp.Name, version) {
			return false
		}
	}
	return true
}

// MarkInstalled records subpackage of pkg as applied at version.
func (m *InstalledSubpackageManager) MarkInstalled(ctx context.Context, pkg, subpackage string, version int) error {
	err := m.store.Upsert(ctx, InstalledRecord{
		Package:     pkg,
		AppVersion:  version,
		Subpackage:  subpackage,
		VersionCode: version,
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := make(map[string]int)
	for name, v := range m.cache[pkg] {
		if v == version {
			subs[name] = v
		}
	}
	subs[subpackage] = version
	m.cache[pkg] = subs
	return nil
}

// Forget removes every record of pkg.
func (m *InstalledSubpackageManager) Forget(ctx context.Context, pkg string) error {
	if err := m.store.Delete(ctx, pkg); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, pkg)
	return nil
}

// Packages lists every package with applied records.
func (m *InstalledSubpackageManager) Packages(ctx context.Context) ([]string, error) {
	return m.store.Packages(ctx)
}

// MemoryInstalledStore is a volatile InstalledStore.
type MemoryInstalledStore struct {
	mu   sync.Mutex
	recs map[string][]InstalledRecord
}

// NewMemoryInstalledStore creates an empty in-memory store.
func NewMemoryInstalledStore() *MemoryInstalledStore {
	return &MemoryInstalledStore{recs: make(map[string][]InstalledRecord)}
}

func (s *MemoryInstalledStore) Records(_ context.Context, pkg string) ([]InstalledRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]InstalledRecord(nil), s.recs[pkg]...), nil
}

func (s *MemoryInstalledStore) Upsert(_ context.Context, rec InstalledRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.recs[rec.Package][:0:0]
	for _, r := range s.recs[rec.Package] {
		if r.AppVersion == rec.AppVersion && r.Subpackage != rec.Subpackage {
			kept = append(kept, r)
		}
	}
	s.recs[rec.Package] = append(kept, rec)
	return nil
}

func (s *MemoryInstalledStore) Delete(_ context.Context, pkg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, pkg)
	return nil
}

func (s *MemoryInstalledStore) Packages(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkgs := make([]string, 0, len(s.recs))
	for pkg := range s.recs {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs, nil
}

func (s *MemoryInstalledStore) Close() error { return nil }
