package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/warpdl/warppkg/pkg/distlib"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_UpsertReplacesOtherVersions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, sub := range []string{"base", "pages"} {
		if err := s.Upsert(ctx, distlib.InstalledRecord{Package: "app", AppVersion: 1, Subpackage: sub, VersionCode: 1}); err != nil {
			t.Fatalf("Upsert(%s): %v", sub, err)
		}
	}
	if err := s.Upsert(ctx, distlib.InstalledRecord{Package: "other", AppVersion: 4, VersionCode: 4}); err != nil {
		t.Fatalf("Upsert(other): %v", err)
	}

	recs, err := s.Records(ctx, "app")
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 2 || recs[0].Subpackage != "base" || recs[1].Subpackage != "pages" {
		t.Fatalf("unexpected records %+v", recs)
	}

	if err := s.Upsert(ctx, distlib.InstalledRecord{Package: "app", AppVersion: 2, Subpackage: "base", VersionCode: 2}); err != nil {
		t.Fatalf("Upsert v2: %v", err)
	}
	recs, _ = s.Records(ctx, "app")
	if len(recs) != 1 || recs[0].AppVersion != 2 || recs[0].VersionCode != 2 {
		t.Fatalf("expected only the v2 base record, got %+v", recs)
	}
	if other, _ := s.Records(ctx, "other"); len(other) != 1 {
		t.Fatalf("other package must be untouched, got %+v", other)
	}
}

func TestSQLiteStore_PackagesAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.Upsert(ctx, distlib.InstalledRecord{Package: "b", AppVersion: 1, VersionCode: 1})
	s.Upsert(ctx, distlib.InstalledRecord{Package: "a", AppVersion: 1, VersionCode: 1})

	pkgs, err := s.Packages(ctx)
	if err != nil {
		t.Fatalf("Packages: %v", err)
	}
	if len(pkgs) != 2 || pkgs[0] != "a" || pkgs[1] != "b" {
		t.Fatalf("unexpected packages %v", pkgs)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if recs, _ := s.Records(ctx, "a"); len(recs) != 0 {
		t.Fatalf("deleted package still has records %+v", recs)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "installed.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.Upsert(ctx, distlib.InstalledRecord{Package: "app", AppVersion: 3, Subpackage: "base", VersionCode: 3}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	m := distlib.NewInstalledSubpackageManager(s, nil)
	if !m.IsInstalled(ctx, "app", "base", 3) {
		t.Fatal("record lost across reopen")
	}
}
