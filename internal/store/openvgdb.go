// Package store provides access to the OpenVGDB game metadata database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"eclipse-api-go/internal/model"
)

// setupQueries build the search index; only the supported systems are copied.
var setupQueries = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS releases_fts USING fts5 (
  id,
  name,
  boxart,
  system,
  region
 )`,
	`INSERT INTO releases_fts (id, name, boxart, system, region)
 SELECT
  releaseID,
  releaseTitleName,
  releaseCoverFront,
  TEMPsystemShortName,
  TEMPregionLocalizedName
 FROM RELEASES
 WHERE LOWER(TEMPsystemShortName) IN ('gba', 'gb', 'gbc', 'nes', 'snes', 'sms', 'gg')`,
}

const searchQuery = `SELECT name, boxart, system, region
 FROM releases_fts
 WHERE name MATCH ?1
  AND (?2 IS NULL OR LOWER(system) = LOWER(?2))
  AND boxart IS NOT NULL
 ORDER BY rank`

// ErrNotIndexed is returned when the database has neither a search index nor
// a RELEASES table to build one from.
var ErrNotIndexed = errors.New("openvgdb: no RELEASES table to index")

// OpenVGDB is a read-mostly handle on the OpenVGDB SQLite file.
type OpenVGDB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the database at path and builds the full-text index on first use.
func Open(ctx context.Context, path string, logger *slog.Logger) (*OpenVGDB, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("openvgdb: resolve path %q: %w", path, err)
	}
	// sqlite would silently create a missing file.
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("openvgdb: %w", err)
	}
	dbURL := url.URL{
		Scheme:   "file",
		Path:     abs,
		OmitHost: true,
		RawQuery: "_pragma=busy_timeout(5000)",
	}
	db, err := sql.Open("sqlite", dbURL.String())
	if err != nil {
		return nil, fmt.Errorf("openvgdb: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("openvgdb: ping: %w", err)
	}

	s := &OpenVGDB{db: db, logger: logger.With("component", "openvgdb")}
	if err := s.ensureIndex(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *OpenVGDB) ensureIndex(ctx context.Context) error {
	exists, err := s.tableExists(ctx, "releases_fts")
	if err != nil {
		return err
	}
	if exists {
		s.logger.Debug("search index present")
		return nil
	}

	hasReleases, err := s.tableExists(ctx, "RELEASES")
	if err != nil {
		return err
	}
	if !hasReleases {
		return ErrNotIndexed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("openvgdb: begin index build: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rows int64
	for _, query := range setupQueries {
		res, err := tx.ExecContext(ctx, query)
		if err != nil {
			return fmt.Errorf("openvgdb: setup command (%q) error: %w", query, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			rows = n
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("openvgdb: commit index build: %w", err)
	}

	s.logger.Info("built search index", "rows", rows)
	return nil
}

func (s *OpenVGDB) tableExists(ctx context.Context, name string) (bool, error) {
	var found string
	err := s.db.QueryRowContext(ctx,
		`SELECT DISTINCT tbl_name FROM sqlite_master WHERE tbl_name = ?`, name,
	).Scan(&found)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("openvgdb: lookup table %s: %w", name, err)
	}
	return true, nil
}

// Search runs an FTS5 match expression against release names, optionally
// restricted to one system (case-insensitive). Releases without box art are
// skipped. Results are ordered by relevance.
func (s *OpenVGDB) Search(ctx context.Context, match, system string) ([]model.Game, error) {
	sys := sql.NullString{String: system, Valid: system != ""}
	rows, err := s.db.QueryContext(ctx, searchQuery, match, sys)
	if err != nil {
		return nil, fmt.Errorf("openvgdb: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	games := make([]model.Game, 0)
	for rows.Next() {
		var name, boxart, sysName, region sql.NullString
		if err := rows.Scan(&name, &boxart, &sysName, &region); err != nil {
			return nil, fmt.Errorf("openvgdb: scan: %w", err)
		}
		games = append(games, model.Game{
			Name:   name.String,
			Boxart: boxart.String,
			System: sysName.String,
			Region: region.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("openvgdb: search: %w", err)
	}
	return games, nil
}

// Ping reports whether the database is reachable.
func (s *OpenVGDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *OpenVGDB) Close() error {
	return s.db.Close()
}
