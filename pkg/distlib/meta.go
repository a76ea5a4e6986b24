package distlib

import (
	"strings"
)

// SubpackageInfo describes one independently fetchable slice of a package.
type SubpackageInfo struct {
	// Name is unique within the package.
	Name string `json:"name"`
	// Resource is the path root owned by the sub-package, e.g. "/pages/detail".
	Resource string `json:"resource"`
	// Size is the archive size in bytes, used as the progress total.
	Size int64 `json:"size"`
	// IsBase marks the sub-package that every page depends on.
	IsBase bool `json:"is_base"`
	// IsStandalone marks a sub-package that runs without the base.
	IsStandalone bool `json:"is_standalone"`
}

// Contains reports whether the page path belongs to this sub-package.
// The base sub-package owns every path.
func (s *SubpackageInfo) Contains(path string) bool {
	if s.IsBase {
		return true
	}
	if s.Resource == "" || path == "" {
		return false
	}
	root := "/" + strings.Trim(s.Resource, "/")
	p := "/" + strings.TrimLeft(path, "/")
	return p == root || strings.HasPrefix(p, root+"/")
}

// AppDistributionMeta is what the provider knows about a package version.
type AppDistributionMeta struct {
	Package     string           `json:"package"`
	Version     int              `json:"version"`
	DownloadURL string           `json:"download_url"`
	Size        int64            `json:"size"`
	Streamable  bool             `json:"streamable"`
	Signer      string           `json:"signer,omitempty"`
	Subpackages []SubpackageInfo `json:"subpackages,omitempty"`
	// NeedUpdate is the subset of Subpackages whose installed version
	// differs from Version. Filled by the service.
	NeedUpdate []SubpackageInfo `json:"need_update,omitempty"`
}

// HasSubpackages reports whether the package is split into sub-packages.
func (m *AppDistributionMeta) HasSubpackages() bool {
	return len(m.Subpackages) > 0
}

// Subpackage returns the sub-package with the given name.
func (m *AppDistributionMeta) Subpackage(name string) *SubpackageInfo {
	if name == "" {
		return nil
	}
	for i := range m.Subpackages {
		if m.Subpackages[i].Name == name {
			return &m.Subpackages[i]
		}
	}
	return nil
}

// Base returns the base sub-package, or nil.
func (m *AppDistributionMeta) Base() *SubpackageInfo {
	for i := range m.Subpackages {
		if m.Subpackages[i].IsBase {
			return &m.Subpackages[i]
		}
	}
	return nil
}

// ResolveTarget finds the sub-package a request is about. An exact name
// match wins; otherwise the first non-base sub-package containing path,
// falling back to the base. exact reports whether the name matched.
func (m *AppDistributionMeta) ResolveTarget(subpackage, path string) (target *SubpackageInfo, exact bool) {
	if sp := m.Subpackage(subpackage); sp != nil {
		return sp, true
	}
	if path == "" {
		return nil, false
	}
	var base *SubpackageInfo
	for i := range m.Subpackages {
		sp := &m.Subpackages[i]
		if sp.IsBase {
			base = sp
			continue
		}
		if sp.Contains(path) {
			return sp, false
		}
	}
	return base, false
}

// PreviewInfo is the lightweight description shown while an install runs.
type PreviewInfo struct {
	Package     string `json:"package"`
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	Orientation string `json:"orientation,omitempty"`
}
