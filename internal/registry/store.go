package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/driftpkg/drift/internal/core"
	_ "modernc.org/sqlite"
)

// Store is the durable registry cache: the packages every synced repository
// currently advertises. Rows are owned exclusively by sync, which replaces a
// repository's whole row-set in one transaction; readers never observe a
// half-updated registry.
type Store struct {
	write *sql.DB
	read  *sql.DB
	path  string
}

// Provide records that a family surfaces a package under an extra name.
type Provide struct {
	RepoName    string
	Family      string
	PkgName     string
	ProvideName string
}

// NewStore opens (and if needed initializes) the registry database.
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
CREATE TABLE IF NOT EXISTS repositories (
    name TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    metadata_digest TEXT NOT NULL,
    synced_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS collections (
    repo_name TEXT NOT NULL,
    name TEXT NOT NULL,
    UNIQUE(repo_name, name)
);

CREATE TABLE IF NOT EXISTS packages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    repo_name TEXT NOT NULL,
    collection TEXT NOT NULL,
    family TEXT NOT NULL,
    pkg_name TEXT NOT NULL,
    pkg TEXT NOT NULL,
    pkg_id TEXT,
    app_id TEXT,
    description TEXT,
    note TEXT,
    version TEXT,
    download_url TEXT NOT NULL,
    size INTEGER DEFAULT 0,
    checksum TEXT NOT NULL,
    build_date TEXT,
    build_script TEXT,
    build_log TEXT,
    category TEXT,
    desktop TEXT,
    icon TEXT,
    UNIQUE(repo_name, collection, family, pkg_name)
);

CREATE INDEX IF NOT EXISTS idx_packages_pkg_name ON packages(pkg_name);
CREATE INDEX IF NOT EXISTS idx_packages_family ON packages(family);

CREATE TABLE IF NOT EXISTS provides (
    repo_name TEXT NOT NULL,
    family TEXT NOT NULL,
    pkg_name TEXT NOT NULL,
    provide_name TEXT NOT NULL,
    UNIQUE(repo_name, family, pkg_name, provide_name)
);

CREATE INDEX IF NOT EXISTS idx_provides_name ON provides(provide_name);
	`
	if _, err := s.write.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// RepositoryDigest returns the digest of the metadata document last synced
// for a repository, or "" when the repository was never synced.
func (s *Store) RepositoryDigest(ctx context.Context, repoName string) (string, error) {
	var digest string
	err := s.read.QueryRowContext(ctx,
		"SELECT metadata_digest FROM repositories WHERE name = ?", repoName).Scan(&digest)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query repository digest: %w", err)
	}
	return digest, nil
}

// ReplaceRepository swaps a repository's entire row-set in one transaction.
func (s *Store) ReplaceRepository(ctx context.Context, repoName, url, digest string, pkgs []core.Package, provides []Provide) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sync transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM packages WHERE repo_name = ?",
		"DELETE FROM provides WHERE repo_name = ?",
		"DELETE FROM collections WHERE repo_name = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, repoName); err != nil {
			return fmt.Errorf("clear repository rows: %w", err)
		}
	}

	collections := make(map[string]struct{})
	for _, p := range pkgs {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO packages (repo_name, collection, family, pkg_name, pkg, pkg_id, app_id,
    description, note, version, download_url, size, checksum,
    build_date, build_script, build_log, category, desktop, icon)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.RepoName, p.Collection, p.Family, p.PkgName, p.Pkg, p.PkgID, p.AppID,
			p.Description, p.Note, p.Version, p.DownloadURL, p.Size, p.Checksum,
			p.BuildDate, p.BuildScript, p.BuildLog, p.Category, p.Desktop, p.Icon,
		); err != nil {
			return fmt.Errorf("insert package %s: %w", p.FullName(), err)
		}
		collections[p.Collection] = struct{}{}
	}

	for name := range collections {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO collections (repo_name, name) VALUES (?, ?)",
			repoName, name); err != nil {
			return fmt.Errorf("insert collection %s: %w", name, err)
		}
	}

	for _, pr := range provides {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO provides (repo_name, family, pkg_name, provide_name) VALUES (?, ?, ?, ?)",
			pr.RepoName, pr.Family, pr.PkgName, pr.ProvideName); err != nil {
			return fmt.Errorf("insert provide %s: %w", pr.ProvideName, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO repositories (name, url, metadata_digest, synced_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(name) DO UPDATE SET url = excluded.url,
    metadata_digest = excluded.metadata_digest, synced_at = CURRENT_TIMESTAMP`,
		repoName, url, digest); err != nil {
		return fmt.Errorf("record repository sync: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sync transaction: %w", err)
	}
	return nil
}

const packageColumns = `repo_name, collection, family, pkg_name, pkg,
    COALESCE(pkg_id, ''), COALESCE(app_id, ''), COALESCE(description, ''),
    COALESCE(note, ''), COALESCE(version, ''), download_url, size, checksum,
    COALESCE(build_date, ''), COALESCE(build_script, ''), COALESCE(build_log, ''),
    COALESCE(category, ''), COALESCE(desktop, ''), COALESCE(icon, '')`

func scanPackage(rows *sql.Rows) (core.Package, error) {
	var p core.Package
	err := rows.Scan(&p.RepoName, &p.Collection, &p.Family, &p.PkgName, &p.Pkg,
		&p.PkgID, &p.AppID, &p.Description, &p.Note, &p.Version,
		&p.DownloadURL, &p.Size, &p.Checksum,
		&p.BuildDate, &p.BuildScript, &p.BuildLog, &p.Category, &p.Desktop, &p.Icon)
	return p, err
}

func (s *Store) queryPackages(ctx context.Context, query string, args ...any) ([]core.Package, error) {
	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query packages: %w", err)
	}
	defer rows.Close()

	var pkgs []core.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		pkgs = append(pkgs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return pkgs, nil
}

// FindByName returns all packages whose pkg_name equals name (case
// sensitive) or which a family surfaces under that name via provides.
// Results come back in deterministic lexical order so repeated queries
// against unchanged registry state select the same candidate.
func (s *Store) FindByName(ctx context.Context, name string) ([]core.Package, error) {
	return s.queryPackages(ctx, `
SELECT `+packageColumns+` FROM packages
WHERE pkg_name = ?
   OR (family, pkg_name) IN (SELECT family, pkg_name FROM provides WHERE provide_name = ?)
ORDER BY repo_name, collection, family, pkg_name`, name, name)
}

// ByRepository returns all packages a repository advertises, ordered.
func (s *Store) ByRepository(ctx context.Context, repoName string) ([]core.Package, error) {
	return s.queryPackages(ctx, `
SELECT `+packageColumns+` FROM packages
WHERE repo_name = ?
ORDER BY repo_name, collection, family, pkg_name`, repoName)
}

// All returns every registry package, ordered. Used by the search prefilter.
func (s *Store) All(ctx context.Context) ([]core.Package, error) {
	return s.queryPackages(ctx, `
SELECT ` + packageColumns + ` FROM packages
ORDER BY repo_name, collection, family, pkg_name`)
}
