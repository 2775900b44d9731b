// Package docstore keeps commission receipt files on the local filesystem
// or in an S3-compatible bucket. Both implement sales.DocumentStore.
package docstore

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/sales-engine/sales"
)

// ObjectKey is where a receipt is stored, relative to the store root:
// <sale>/<payment>/<random>_<filename>.
func ObjectKey(meta sales.DocumentMeta) string {
	name := filepath.Base(strings.ReplaceAll(meta.Filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "receipt"
	}
	return path.Join(string(meta.SaleID), string(meta.PaymentID), uuid.NewString()[:8]+"_"+name)
}

// =============================================================================
// LOCAL
// =============================================================================

type Local struct {
	BaseDir string
}

var _ sales.DocumentStore = (*Local)(nil)

// NewLocal creates baseDir if missing.
func NewLocal(baseDir string) (*Local, error) {
	if baseDir == "" {
		baseDir = "./data/receipts"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensuring receipt dir %q: %w", baseDir, err)
	}
	return &Local{BaseDir: baseDir}, nil
}

func (l *Local) Store(ctx context.Context, data []byte, meta sales.DocumentMeta) (sales.ReceiptRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := ObjectKey(meta)
	full := l.Path(sales.ReceiptRef(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating receipt dir: %w", err)
	}

	// write then rename so a reader never sees a partial file
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing receipt %s: %w", meta.Filename, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalizing receipt %s: %w", meta.Filename, err)
	}
	return sales.ReceiptRef(key), nil
}

// Path maps a reference back to its file.
func (l *Local) Path(ref sales.ReceiptRef) string {
	return filepath.Join(l.BaseDir, filepath.FromSlash(string(ref)))
}

// CleanupOlderThan removes leftover temp files older than d.
func (l *Local) CleanupOlderThan(d time.Duration) error {
	cutoff := time.Now().Add(-d)
	return filepath.WalkDir(l.BaseDir, func(p string, de os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() || !strings.HasSuffix(p, ".tmp") {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(p)
		}
		return nil
	})
}
