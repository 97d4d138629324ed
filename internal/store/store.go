// Package store persists object snapshots and named density map specs in
// SQLite.
//
// Geometries are stored as WKB blobs. A snapshot replaces any earlier one of
// the same name atomically.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/ironsheep/density-tools-mcp/internal/densitymap"
	"github.com/ironsheep/density-tools-mcp/internal/objects"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for unknown snapshot or spec names.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	name     TEXT PRIMARY KEY,
	width    INTEGER NOT NULL,
	height   INTEGER NOT NULL,
	saved_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_objects (
	snapshot  TEXT NOT NULL REFERENCES snapshots(name) ON DELETE CASCADE,
	id        INTEGER NOT NULL,
	kind      TEXT NOT NULL,
	class     TEXT NOT NULL,
	z         INTEGER NOT NULL,
	t         INTEGER NOT NULL,
	parent_id INTEGER NOT NULL,
	name      TEXT NOT NULL,
	geometry  BLOB NOT NULL,
	PRIMARY KEY (snapshot, id)
);
CREATE TABLE IF NOT EXISTS specs (
	name     TEXT PRIMARY KEY,
	spec     TEXT NOT NULL,
	saved_at INTEGER NOT NULL
);
`

// Store is a SQLite-backed snapshot and spec store.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}
	// One connection keeps pragmas and in-memory databases consistent.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to initialize database")
		}
	}

	s := &Store{db: db, log: log.With().Str("component", "store").Logger()}
	s.log.Debug().Str("path", path).Msg("database opened")
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Snapshot is a saved set of objects with the image size they belong to.
type Snapshot struct {
	Name    string
	Width   int
	Height  int
	SavedAt time.Time
	Objects []*objects.Object
}

// SnapshotInfo summarises a saved snapshot.
type SnapshotInfo struct {
	Name    string    `json:"name"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Objects int       `json:"objects"`
	SavedAt time.Time `json:"saved_at"`
}

// SaveSnapshot stores objs under name, replacing an existing snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, name string, width, height int, objs []*objects.Object) error {
	if name == "" {
		return errors.New("snapshot name is required")
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_objects WHERE snapshot = ?`, name); err != nil {
			return errors.Wrap(err, "failed to clear snapshot objects")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO snapshots (name, width, height, saved_at) VALUES (?, ?, ?, ?)`,
			name, width, height, time.Now().UnixMilli()); err != nil {
			return errors.Wrap(err, "failed to save snapshot")
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshot_objects
			(snapshot, id, kind, class, z, t, parent_id, name, geometry)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return errors.Wrap(err, "failed to prepare object insert")
		}
		defer stmt.Close()

		for _, o := range objs {
			geom, err := wkb.Marshal(storable(o.Geometry))
			if err != nil {
				return errors.Wrapf(err, "failed to encode geometry of object %d", o.ID)
			}
			if _, err := stmt.ExecContext(ctx, name, o.ID, o.Kind.String(), o.Class,
				o.Plane.Z, o.Plane.T, o.ParentID, o.Name, geom); err != nil {
				return errors.Wrapf(err, "failed to save object %d", o.ID)
			}
		}
		s.log.Info().Str("snapshot", name).Int("objects", len(objs)).Msg("snapshot saved")
		return nil
	})
}

// LoadSnapshot reads a snapshot. Objects are returned in ascending ID order
// with their stored IDs; adding them to a fresh hierarchy renumbers them in
// the same order.
func (s *Store) LoadSnapshot(ctx context.Context, name string) (*Snapshot, error) {
	snap := &Snapshot{Name: name}
	var saved int64
	err := s.db.QueryRowContext(ctx,
		`SELECT width, height, saved_at FROM snapshots WHERE name = ?`, name).
		Scan(&snap.Width, &snap.Height, &saved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "snapshot %q", name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read snapshot")
	}
	snap.SavedAt = time.UnixMilli(saved)

	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, class, z, t, parent_id, name, geometry
		FROM snapshot_objects WHERE snapshot = ? ORDER BY id`, name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read snapshot objects")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, parent int64
			kind       string
			class      string
			plane      objects.Plane
			objName    string
			blob       []byte
		)
		if err := rows.Scan(&id, &kind, &class, &plane.Z, &plane.T, &parent, &objName, &blob); err != nil {
			return nil, errors.Wrap(err, "failed to scan object")
		}
		k, err := objects.ParseKind(kind)
		if err != nil {
			return nil, errors.Wrapf(err, "object %d", id)
		}
		geom, err := wkb.Unmarshal(blob)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode geometry of object %d", id)
		}
		o, err := objects.New(k, geom, class, plane)
		if err != nil {
			return nil, errors.Wrapf(err, "object %d", id)
		}
		o.ParentID = parent
		o.Name = objName
		snap.Objects = append(snap.Objects, o.WithID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read snapshot objects")
	}
	return snap, nil
}

// Snapshots lists saved snapshots by name.
func (s *Store) Snapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT s.name, s.width, s.height, s.saved_at,
		(SELECT COUNT(*) FROM snapshot_objects o WHERE o.snapshot = s.name)
		FROM snapshots s ORDER BY s.name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list snapshots")
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var saved int64
		if err := rows.Scan(&info.Name, &info.Width, &info.Height, &saved, &info.Objects); err != nil {
			return nil, errors.Wrap(err, "failed to scan snapshot")
		}
		info.SavedAt = time.UnixMilli(saved)
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteSnapshot removes a snapshot and its objects.
func (s *Store) DeleteSnapshot(ctx context.Context, name string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_objects WHERE snapshot = ?`, name); err != nil {
			return errors.Wrap(err, "failed to delete snapshot objects")
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE name = ?`, name)
		if err != nil {
			return errors.Wrap(err, "failed to delete snapshot")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.Wrapf(ErrNotFound, "snapshot %q", name)
		}
		return nil
	})
}

// SaveSpec stores a density map spec under name, replacing an existing one.
func (s *Store) SaveSpec(ctx context.Context, name string, spec densitymap.Spec) error {
	if name == "" {
		return errors.New("spec name is required")
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO specs (name, spec, saved_at) VALUES (?, ?, ?)`,
		name, spec.Key(), time.Now().UnixMilli()); err != nil {
		return errors.Wrapf(err, "failed to save spec %q", name)
	}
	return nil
}

// LoadSpec reads a named spec.
func (s *Store) LoadSpec(ctx context.Context, name string) (densitymap.Spec, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT spec FROM specs WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return densitymap.Spec{}, errors.Wrapf(ErrNotFound, "spec %q", name)
	}
	if err != nil {
		return densitymap.Spec{}, errors.Wrap(err, "failed to read spec")
	}
	return densitymap.ParseSpec([]byte(data))
}

// Specs lists saved spec names.
func (s *Store) Specs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM specs ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list specs")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, errors.Wrap(err, "failed to scan spec name")
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *Store) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// storable converts geometries WKB cannot represent.
func storable(g orb.Geometry) orb.Geometry {
	switch g := g.(type) {
	case orb.Bound:
		return g.ToPolygon()
	case orb.Ring:
		return orb.Polygon{g}
	}
	return g
}
