package capture

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/pagesnap/horosafe"
)

// ArchiveName is "pagesnap-<host>-<timestamp>.zip". Host characters outside
// [a-z0-9.-] and the ':' and '.' of the ISO timestamp become '-'.
func ArchiveName(pageURL string, at time.Time) string {
	host := "page"
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		host = u.Host
	}
	host = horosafe.SafeFileName(strings.ToLower(host))
	ts := at.UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return "pagesnap-" + host + "-" + ts + ".zip"
}

// Output writes archives into a directory.
type Output struct {
	Dir string
}

// Write stores data as name under Dir and returns the file path. The file
// appears atomically.
func (o *Output) Write(name string, data []byte) (string, error) {
	dir := o.Dir
	if dir == "" {
		dir = "."
	}
	path, err := horosafe.SafePath(dir, name)
	if err != nil {
		return "", fmt.Errorf("capture: output: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("capture: output: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".pagesnap-*.zip.tmp")
	if err != nil {
		return "", fmt.Errorf("capture: output: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("capture: output: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("capture: output: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("capture: output: rename: %w", err)
	}
	return filepath.Clean(path), nil
}
