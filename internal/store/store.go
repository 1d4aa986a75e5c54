// Package store persists the installed-package record: the source of truth
// for update, remove, list and info. Only the engine mutates it, and only
// after the corresponding filesystem operation durably succeeded.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/sandbox"
	_ "modernc.org/sqlite"
)

// Store is the installed-package database.
type Store struct {
	write *sql.DB
	read  *sql.DB
	path  string
}

// NewStore opens (and if needed initializes) the installed-package database.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)

	// Write pool: MUST be 1 connection only
	write, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open write connection: %w", err)
	}
	write.SetMaxOpenConns(1)
	write.SetMaxIdleConns(1)
	write.SetConnMaxIdleTime(time.Minute)
	write.SetConnMaxLifetime(time.Hour)

	read, err := sql.Open("sqlite", connStr)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read connection: %w", err)
	}
	read.SetMaxOpenConns(10)
	read.SetMaxIdleConns(5)
	read.SetConnMaxIdleTime(time.Minute)
	read.SetConnMaxLifetime(time.Hour)

	s := &Store{write: write, read: read, path: dbPath}
	if err := s.initSchema(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes both database connections.
func (s *Store) Close() error {
	writeErr := s.write.Close()
	readErr := s.read.Close()
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS installed_packages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    repo_name TEXT NOT NULL,
    collection TEXT NOT NULL,
    family TEXT NOT NULL,
    pkg_name TEXT NOT NULL,
    pkg TEXT NOT NULL,
    pkg_id TEXT,
    app_id TEXT,
    version TEXT,
    size INTEGER DEFAULT 0,
    checksum TEXT NOT NULL,
    installed_path TEXT NOT NULL,
    installed_date DATETIME DEFAULT CURRENT_TIMESTAMP,
    disabled INTEGER DEFAULT 0,
    pinned INTEGER DEFAULT 0,
    UNIQUE(family, pkg_name)
);

CREATE INDEX IF NOT EXISTS idx_installed_family ON installed_packages(family);
CREATE INDEX IF NOT EXISTS idx_installed_checksum ON installed_packages(checksum);

CREATE TABLE IF NOT EXISTS sandbox_rules (
    package_id INTEGER PRIMARY KEY REFERENCES installed_packages(id) ON DELETE CASCADE,
    fs_read TEXT,
    fs_write TEXT,
    net INTEGER
);

CREATE TABLE IF NOT EXISTS portable_packages (
    package_id INTEGER PRIMARY KEY REFERENCES installed_packages(id) ON DELETE CASCADE,
    portable_path TEXT,
    portable_home TEXT,
    portable_config TEXT
);
	`
	if _, err := s.write.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Record upserts an installed-package row. A row with the same
// (family, pkg_name) and identical checksum is refreshed in place; a
// different checksum replaces it, which is what an update is.
func (s *Store) Record(ctx context.Context, p core.InstalledPackage) error {
	_, err := s.write.ExecContext(ctx, `
INSERT INTO installed_packages (repo_name, collection, family, pkg_name, pkg,
    pkg_id, app_id, version, size, checksum, installed_path, installed_date,
    disabled, pinned)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?, ?)
ON CONFLICT(family, pkg_name) DO UPDATE SET
    repo_name = excluded.repo_name, collection = excluded.collection,
    pkg = excluded.pkg, pkg_id = excluded.pkg_id, app_id = excluded.app_id,
    version = excluded.version, size = excluded.size,
    checksum = excluded.checksum, installed_path = excluded.installed_path,
    installed_date = CURRENT_TIMESTAMP`,
		p.RepoName, p.Collection, p.Family, p.PkgName, p.Pkg,
		p.PkgID, p.AppID, p.Version, p.Size, p.Checksum, p.InstalledPath,
		p.Disabled, p.Pinned)
	if err != nil {
		return fmt.Errorf("record installed package %s: %w", p.FullName(), err)
	}
	return nil
}

const installedColumns = `id, repo_name, collection, family, pkg_name, pkg,
    COALESCE(pkg_id, ''), COALESCE(app_id, ''), COALESCE(version, ''),
    size, checksum, installed_path, installed_date, disabled, pinned`

func scanInstalled(row interface{ Scan(...any) error }) (core.InstalledPackage, error) {
	var p core.InstalledPackage
	err := row.Scan(&p.ID, &p.RepoName, &p.Collection, &p.Family, &p.PkgName, &p.Pkg,
		&p.PkgID, &p.AppID, &p.Version,
		&p.Size, &p.Checksum, &p.InstalledPath, &p.InstalledDate, &p.Disabled, &p.Pinned)
	return p, err
}

// Lookup returns the installed row for (family, pkg_name), or ErrNotInstalled.
func (s *Store) Lookup(ctx context.Context, family, pkgName string) (*core.InstalledPackage, error) {
	row := s.read.QueryRowContext(ctx,
		"SELECT "+installedColumns+" FROM installed_packages WHERE family = ? AND pkg_name = ?",
		family, pkgName)
	p, err := scanInstalled(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrNotInstalled, family, pkgName)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup installed package: %w", err)
	}
	return &p, nil
}

// IsInstalled reports whether (family, pkg_name) has an installed row. It
// satisfies the resolver's installed-preference hook.
func (s *Store) IsInstalled(ctx context.Context, family, pkgName string) (bool, error) {
	var one int
	err := s.read.QueryRowContext(ctx,
		"SELECT 1 FROM installed_packages WHERE family = ? AND pkg_name = ?",
		family, pkgName).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query installed: %w", err)
	}
	return true, nil
}

func (s *Store) queryInstalled(ctx context.Context, query string, args ...any) ([]core.InstalledPackage, error) {
	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query installed packages: %w", err)
	}
	defer rows.Close()

	var pkgs []core.InstalledPackage
	for rows.Next() {
		p, err := scanInstalled(rows)
		if err != nil {
			return nil, fmt.Errorf("scan installed package: %w", err)
		}
		pkgs = append(pkgs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return pkgs, nil
}

// ByFamily returns all installed variants of a family, ordered by pkg_name.
// This is the candidate set the use command switches between.
func (s *Store) ByFamily(ctx context.Context, family string) ([]core.InstalledPackage, error) {
	return s.queryInstalled(ctx,
		"SELECT "+installedColumns+" FROM installed_packages WHERE family = ? ORDER BY pkg_name",
		family)
}

// All returns every installed package, ordered by family then pkg_name.
func (s *Store) All(ctx context.Context) ([]core.InstalledPackage, error) {
	return s.queryInstalled(ctx,
		"SELECT " + installedColumns + " FROM installed_packages ORDER BY family, pkg_name")
}

// Delete removes the installed row for (family, pkg_name). Sandbox and
// portable rows cascade.
func (s *Store) Delete(ctx context.Context, family, pkgName string) error {
	res, err := s.write.ExecContext(ctx,
		"DELETE FROM installed_packages WHERE family = ? AND pkg_name = ?",
		family, pkgName)
	if err != nil {
		return fmt.Errorf("delete installed package: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", core.ErrNotInstalled, family, pkgName)
	}
	return nil
}

// CountByChecksum counts installed rows referencing a checksum. The engine
// deletes a content-addressed artifact only when this reaches zero.
func (s *Store) CountByChecksum(ctx context.Context, checksum string) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM installed_packages WHERE checksum = ?", checksum).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count checksum references: %w", err)
	}
	return n, nil
}

// ByChecksum returns installed rows referencing a checksum.
func (s *Store) ByChecksum(ctx context.Context, checksum string) ([]core.InstalledPackage, error) {
	return s.queryInstalled(ctx,
		"SELECT "+installedColumns+" FROM installed_packages WHERE checksum = ? ORDER BY family, pkg_name",
		checksum)
}

func (s *Store) setFlag(ctx context.Context, column, family, pkgName string, value bool) error {
	res, err := s.write.ExecContext(ctx,
		"UPDATE installed_packages SET "+column+" = ? WHERE family = ? AND pkg_name = ?",
		value, family, pkgName)
	if err != nil {
		return fmt.Errorf("set %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", core.ErrNotInstalled, family, pkgName)
	}
	return nil
}

// SetPinned pins or unpins an installed package.
func (s *Store) SetPinned(ctx context.Context, family, pkgName string, pinned bool) error {
	return s.setFlag(ctx, "pinned", family, pkgName, pinned)
}

// SetDisabled disables or re-enables an installed package.
func (s *Store) SetDisabled(ctx context.Context, family, pkgName string, disabled bool) error {
	return s.setFlag(ctx, "disabled", family, pkgName, disabled)
}

// SetSandboxRule attaches (or replaces) the per-package sandbox rule. A nil
// rule clears it so the repository/global default applies again.
func (s *Store) SetSandboxRule(ctx context.Context, family, pkgName string, rule *sandbox.Rule) error {
	p, err := s.Lookup(ctx, family, pkgName)
	if err != nil {
		return err
	}

	if rule == nil {
		if _, err := s.write.ExecContext(ctx,
			"DELETE FROM sandbox_rules WHERE package_id = ?", p.ID); err != nil {
			return fmt.Errorf("clear sandbox rule: %w", err)
		}
		return nil
	}

	fsRead, err := json.Marshal(rule.FSRead)
	if err != nil {
		return fmt.Errorf("encode fs_read: %w", err)
	}
	fsWrite, err := json.Marshal(rule.FSWrite)
	if err != nil {
		return fmt.Errorf("encode fs_write: %w", err)
	}

	var net any
	if rule.Net != nil {
		net = *rule.Net
	}

	if _, err := s.write.ExecContext(ctx, `
INSERT INTO sandbox_rules (package_id, fs_read, fs_write, net)
VALUES (?, ?, ?, ?)
ON CONFLICT(package_id) DO UPDATE SET fs_read = excluded.fs_read,
    fs_write = excluded.fs_write, net = excluded.net`,
		p.ID, string(fsRead), string(fsWrite), net); err != nil {
		return fmt.Errorf("store sandbox rule: %w", err)
	}
	return nil
}

// SandboxRule returns the per-package rule, or nil when none is set.
func (s *Store) SandboxRule(ctx context.Context, family, pkgName string) (*sandbox.Rule, error) {
	p, err := s.Lookup(ctx, family, pkgName)
	if err != nil {
		return nil, err
	}

	var fsRead, fsWrite sql.NullString
	var net sql.NullBool
	err = s.read.QueryRowContext(ctx,
		"SELECT fs_read, fs_write, net FROM sandbox_rules WHERE package_id = ?",
		p.ID).Scan(&fsRead, &fsWrite, &net)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sandbox rule: %w", err)
	}

	rule := &sandbox.Rule{}
	if fsRead.Valid {
		if err := json.Unmarshal([]byte(fsRead.String), &rule.FSRead); err != nil {
			return nil, fmt.Errorf("decode fs_read: %w", err)
		}
	}
	if fsWrite.Valid {
		if err := json.Unmarshal([]byte(fsWrite.String), &rule.FSWrite); err != nil {
			return nil, fmt.Errorf("decode fs_write: %w", err)
		}
	}
	if net.Valid {
		v := net.Bool
		rule.Net = &v
	}
	return rule, nil
}

// SetPortable attaches (or replaces) the portable-directory override. A nil
// value clears it.
func (s *Store) SetPortable(ctx context.Context, family, pkgName string, paths *core.PortablePaths) error {
	p, err := s.Lookup(ctx, family, pkgName)
	if err != nil {
		return err
	}

	if paths == nil {
		if _, err := s.write.ExecContext(ctx,
			"DELETE FROM portable_packages WHERE package_id = ?", p.ID); err != nil {
			return fmt.Errorf("clear portable override: %w", err)
		}
		return nil
	}

	if _, err := s.write.ExecContext(ctx, `
INSERT INTO portable_packages (package_id, portable_path, portable_home, portable_config)
VALUES (?, ?, ?, ?)
ON CONFLICT(package_id) DO UPDATE SET portable_path = excluded.portable_path,
    portable_home = excluded.portable_home, portable_config = excluded.portable_config`,
		p.ID, paths.PortablePath, paths.PortableHome, paths.PortableConfig); err != nil {
		return fmt.Errorf("store portable override: %w", err)
	}
	return nil
}

// Portable returns the portable-directory override, or nil when none is set.
func (s *Store) Portable(ctx context.Context, family, pkgName string) (*core.PortablePaths, error) {
	p, err := s.Lookup(ctx, family, pkgName)
	if err != nil {
		return nil, err
	}

	var paths core.PortablePaths
	err = s.read.QueryRowContext(ctx, `
SELECT COALESCE(portable_path, ''), COALESCE(portable_home, ''), COALESCE(portable_config, '')
FROM portable_packages WHERE package_id = ?`,
		p.ID).Scan(&paths.PortablePath, &paths.PortableHome, &paths.PortableConfig)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query portable override: %w", err)
	}
	return &paths, nil
}
