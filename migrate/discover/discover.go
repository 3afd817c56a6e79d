// Package discover loads SQL-file migrations from a migrations directory.
//
// Migrations are .up.sql/.down.sql pairs named {version}_{name}, e.g.
//
//	db/migrations/
//	├── 001_create_users.up.sql
//	├── 001_create_users.down.sql
//	├── 20240215093000_add_posts.up.sql
//	└── 20240215093000_add_posts.down.sql
//
// A missing .down.sql yields a definition without a reverse script; such a
// migration cannot be planned for rollback.
package discover

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/preflightdb/preflight/migrate/registry"
	"github.com/preflightdb/preflight/migrate/sqlscan"
	"github.com/preflightdb/preflight/migrate/version"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// Discover scans dir for migration file pairs and returns definitions in
// ascending version order. Filenames that are not .up.sql/.down.sql are
// ignored; a malformed version prefix on a migration file is an error.
func Discover(fs afero.Fs, dir string) ([]registry.Definition, error) {
	exists, err := afero.DirExists(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat migrations directory: %w", err)
	}
	if !exists {
		return nil, nil
	}

	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var defs []registry.Definition
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), upSuffix) {
			continue
		}

		base := strings.TrimSuffix(info.Name(), upSuffix)
		ver, name, err := parseBase(base)
		if err != nil {
			return nil, fmt.Errorf("migration file %s: %w", info.Name(), err)
		}

		forward, err := afero.ReadFile(fs, filepath.Join(dir, info.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", info.Name(), err)
		}
		if violations := sqlscan.CheckComments(string(forward)); len(violations) > 0 {
			return nil, fmt.Errorf("migration file %s: %s", info.Name(), violations[0])
		}

		def := registry.Definition{
			Version:       ver,
			Name:          name,
			ForwardScript: string(forward),
		}

		downName := base + downSuffix
		if ok, _ := afero.Exists(fs, filepath.Join(dir, downName)); ok {
			reverse, err := afero.ReadFile(fs, filepath.Join(dir, downName))
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", downName, err)
			}
			if violations := sqlscan.CheckComments(string(reverse)); len(violations) > 0 {
				return nil, fmt.Errorf("migration file %s: %s", downName, violations[0])
			}
			def.ReverseScript = string(reverse)
		}

		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Version.Less(defs[j].Version)
	})
	return defs, nil
}

// parseBase splits "001_create_users" into its version and name parts.
func parseBase(base string) (version.Version, string, error) {
	idx := strings.Index(base, "_")
	if idx <= 0 || idx == len(base)-1 {
		return version.Version{}, "", fmt.Errorf("want {version}_{name}, got %q", base)
	}
	ver, err := version.Parse(base[:idx])
	if err != nil {
		return version.Version{}, "", err
	}
	return ver, base[idx+1:], nil
}
