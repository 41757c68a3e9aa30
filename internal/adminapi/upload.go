package adminapi

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
)

// saveUploadedDatabase writes an uploaded GeoIP database to a temp file and
// atomically renames it into place, so a reader never sees a partial file.
func saveUploadedDatabase(f multipart.File, size int64) (string, error) {
	if err := os.MkdirAll("./data", 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	dst := filepath.Join("./data", "GeoLite2-City.mmdb")
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(out, f); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	return dst, nil
}
