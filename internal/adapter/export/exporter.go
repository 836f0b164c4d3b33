package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/bnema/gifcap/internal/domain"
	"github.com/bnema/gifcap/internal/infrastructure/logger"
	"github.com/bnema/gifcap/internal/port"
)

const tempPattern = ".gifcap-*.tmp"

// Exporter writes GIFs into a directory outside the library.
type Exporter struct {
	dir string
}

func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir}
}

func (e *Exporter) Dir() string {
	return e.dir
}

// FileName is <title>-<first 8 chars of id>.gif.
func FileName(m domain.Metadata) string {
	base := truncateToBytes(SanitizeFilename(m.Title), maxFilenameLength-len(".gif")-9)
	return fmt.Sprintf("%s-%s.gif", base, m.ShortID())
}

// Export writes the blob atomically and returns the final path.
func (e *Exporter) Export(ctx context.Context, a *domain.GifArtifact) (string, error) {
	if a == nil || len(a.Blob) == 0 {
		return "", &domain.StorageError{Op: "export", Err: fmt.Errorf("%w: nothing to export", domain.ErrWriteFailed)}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(e.dir, FileName(a.Metadata))
	if err := writeExport(path, a.Blob); err != nil {
		return "", &domain.StorageError{Op: "export", ID: a.ID, Err: mapExportError(err)}
	}

	logger.Debug.Printf("exported %s to %s", a.ID, logger.SanitizeForLog(path))
	return path, nil
}

// writeExport stages blob in a hidden temp file beside path and renames it
// into place once synced. A failed export leaves no file behind; a full disk
// usually shows up at Write or Sync.
func writeExport(path string, blob []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	f, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(blob); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := f.Chmod(0644); err != nil {
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("move into place: %w", err)
	}
	return nil
}

func mapExportError(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return fmt.Errorf("%w: %v", domain.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
}

var _ port.ArtifactExporter = (*Exporter)(nil)
