package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/shirou/gopsutil/v4/disk"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/bnema/gifcap/internal/domain"
	"github.com/bnema/gifcap/internal/infrastructure/logger"
	"github.com/bnema/gifcap/internal/port"
)

//go:embed migrations/*.sql
var migrations embed.FS

// minFreeBytes is kept free on the volume for the WAL and index pages.
const minFreeBytes = 16 << 20

var (
	hookOnce sync.Once
	// goose keeps its settings in package globals.
	gooseMu sync.Mutex
	// ids serialises writes to the same artifact across every store handle in
	// the process.
	ids = newKeyedMutex()
)

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
				"PRAGMA foreign_keys = ON",
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

type Options struct {
	// QuotaBytes caps the total size of stored blobs and posters. Zero means
	// only free disk space is checked.
	QuotaBytes int64
}

type Store struct {
	db        *sql.DB
	dir       string
	opts      Options
	freeSpace func(ctx context.Context, dir string) (uint64, error)
}

func diskFree(ctx context.Context, dir string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// NewStore opens the database at path and brings its schema up to date. A
// database written by a newer build is refused with ErrSchemaMismatch.
func NewStore(ctx context.Context, path string, opts Options) (*Store, error) {
	registerHook()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &domain.StorageError{Op: "open", Err: fmt.Errorf("%w: create data directory: %v", domain.ErrWriteFailed, err)}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Err: fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)}
	}

	// Single connection for SQLite (WAL allows concurrent reads but only one writer)
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := newStoreWithDB(db, opts)
	s.dir = filepath.Dir(path)
	return s, nil
}

func newStoreWithDB(db *sql.DB, opts Options) *Store {
	return &Store{db: db, opts: opts, dir: ".", freeSpace: diskFree}
}

func migrate(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return &domain.StorageError{Op: "migrate", Err: fmt.Errorf("set goose dialect: %w", err)}
	}

	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return &domain.StorageError{Op: "migrate", Err: fmt.Errorf("%w: read version: %v", domain.ErrWriteFailed, err)}
	}
	if current > domain.SchemaVersion {
		return &domain.StorageError{
			Op:  "migrate",
			Err: fmt.Errorf("%w: database is at version %d, this build knows %d", domain.ErrSchemaMismatch, current, domain.SchemaVersion),
		}
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return &domain.StorageError{Op: "migrate", Err: fmt.Errorf("%w: run migrations: %v", domain.ErrWriteFailed, err)}
	}
	return nil
}

// gooseLogger routes migration output to the debug log; stdout may be a
// framed message channel.
type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...interface{}) {
	logger.Debug.Printf("goose: "+format, v...)
}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	logger.Error.Printf("goose: "+format, v...)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	v, err := goose.GetDBVersionContext(ctx, s.db)
	if err != nil {
		return 0, &domain.StorageError{Op: "version", Err: fmt.Errorf("%w: %v", domain.ErrSchemaMismatch, err)}
	}
	return v, nil
}

// Put stores the artifact in one transaction: afterwards the record is
// either complete or absent.
func (s *Store) Put(ctx context.Context, a *domain.GifArtifact) (string, error) {
	if a == nil || a.ID == "" {
		return "", &domain.StorageError{Op: "put", Err: fmt.Errorf("%w: artifact has no id", domain.ErrWriteFailed)}
	}
	if !a.Verify() {
		return "", &domain.StorageError{Op: "put", ID: a.ID, Err: fmt.Errorf("%w: checksum does not match blob", domain.ErrWriteFailed)}
	}

	unlock := ids.Lock(a.ID)
	defer unlock()

	if err := s.checkQuota(ctx, int64(len(a.Blob)+len(a.Poster))); err != nil {
		return "", &domain.StorageError{Op: "put", ID: a.ID, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", &domain.StorageError{Op: "put", ID: a.ID, Err: mapWriteError(err)}
	}
	defer func() { _ = tx.Rollback() }()

	var poster interface{}
	if len(a.Poster) > 0 {
		poster = a.Poster
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO artifacts
		(id, title, width, height, frame_count, duration_ms, size_bytes, checksum, quality, created_at, blob, poster)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.Width, a.Height, a.FrameCount, a.DurationMs, a.SizeBytes,
		a.Checksum, string(a.Quality), a.CreatedAt.UnixNano(), a.Blob, poster)
	if err != nil {
		return "", &domain.StorageError{Op: "put", ID: a.ID, Err: mapWriteError(err)}
	}
	if err := tx.Commit(); err != nil {
		return "", &domain.StorageError{Op: "put", ID: a.ID, Err: mapWriteError(err)}
	}

	logger.Debug.Printf("stored artifact %s: %d frames, %s", a.ID, a.FrameCount, domain.FormatSize(a.SizeBytes))
	return a.ID, nil
}

func (s *Store) checkQuota(ctx context.Context, need int64) error {
	if s.opts.QuotaBytes > 0 {
		var used int64
		err := s.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(size_bytes + COALESCE(length(poster), 0)), 0) FROM artifacts`).Scan(&used)
		if err != nil {
			return fmt.Errorf("%w: measure library: %v", domain.ErrWriteFailed, err)
		}
		if used+need > s.opts.QuotaBytes {
			return fmt.Errorf("%w: %s used, %s more would exceed %s", domain.ErrQuotaExceeded,
				domain.FormatSize(used), domain.FormatSize(need), domain.FormatSize(s.opts.QuotaBytes))
		}
	}

	free, err := s.freeSpace(ctx, s.dir)
	if err != nil {
		logger.Debug.Printf("free space check skipped for %s: %v", logger.SanitizeForLog(s.dir), err)
		return nil
	}
	if uint64(need)+minFreeBytes > free {
		return fmt.Errorf("%w: %s free on disk", domain.ErrQuotaExceeded, domain.FormatSize(int64(free)))
	}
	return nil
}

// mapWriteError turns a full database into ErrQuotaExceeded and everything
// else into ErrWriteFailed.
func mapWriteError(err error) error {
	var serr *sqlite.Error
	if errors.As(err, &serr) && serr.Code()&0xff == sqlite3.SQLITE_FULL {
		return fmt.Errorf("%w: %v", domain.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
}

const metadataColumns = `id, title, width, height, frame_count, duration_ms, size_bytes, checksum, quality, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMetadata(row scanner, extra ...interface{}) (domain.Metadata, error) {
	var (
		m         domain.Metadata
		quality   string
		createdAt int64
	)
	dest := append([]interface{}{
		&m.ID, &m.Title, &m.Width, &m.Height, &m.FrameCount, &m.DurationMs,
		&m.SizeBytes, &m.Checksum, &quality, &createdAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Metadata{}, err
	}
	m.Quality = domain.QualityTier(quality)
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	return m, nil
}

// Get loads an artifact and checks its blob against the stored checksum.
func (s *Store) Get(ctx context.Context, id string) (*domain.GifArtifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+metadataColumns+`, blob, poster FROM artifacts WHERE id = ?`, id)

	var blob, poster []byte
	meta, err := scanMetadata(row, &blob, &poster)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.StorageError{Op: "get", ID: id, Err: domain.ErrNotFound}
		}
		return nil, &domain.StorageError{Op: "get", ID: id, Err: err}
	}

	a := &domain.GifArtifact{Metadata: meta, Blob: blob, Poster: poster}
	if !a.Verify() {
		logger.Warn.Printf("artifact %s failed checksum verification", id)
		return nil, &domain.StorageError{Op: "get", ID: id, Err: fmt.Errorf("%w: stored blob does not match its checksum", domain.ErrWriteFailed)}
	}
	return a, nil
}

// List returns metadata only, newest first.
func (s *Store) List(ctx context.Context) ([]domain.Metadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+metadataColumns+` FROM artifacts ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []domain.Metadata
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, &domain.StorageError{Op: "list", Err: err}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	unlock := ids.Lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return &domain.StorageError{Op: "delete", ID: id, Err: mapWriteError(err)}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &domain.StorageError{Op: "delete", ID: id, Err: mapWriteError(err)}
	}
	if n == 0 {
		return &domain.StorageError{Op: "delete", ID: id, Err: domain.ErrNotFound}
	}
	return nil
}

// Opener opens a fresh Store for every call.
type Opener struct {
	path string
	opts Options
}

func NewOpener(path string, opts Options) *Opener {
	return &Opener{path: path, opts: opts}
}

func (o *Opener) Open(ctx context.Context) (port.ArtifactStore, error) {
	return NewStore(ctx, o.path, o.opts)
}

func (o *Opener) Path() string {
	return o.path
}
