// CLAUDE:SUMMARY Builds the capture ZIP: pure Pack over an ordered file list plus Build, which renders index, quick-check, README and JSON reports in two passes.
// Package pack assembles the capture archive.
package pack

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"
)

// File is one archive entry.
type File struct {
	Name string
	Body []byte
}

// Archiver turns an ordered file list into archive bytes.
type Archiver interface {
	Archive(files []File, modified time.Time) ([]byte, error)
}

// ZipArchiver is the archive/zip Archiver.
type ZipArchiver struct{}

// Archive implements Archiver.
func (ZipArchiver) Archive(files []File, modified time.Time) ([]byte, error) {
	return Pack(files, modified)
}

// stored lists extensions whose content is already compressed.
var stored = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".avif": true, ".woff": true, ".woff2": true, ".mp3": true, ".mp4": true,
	".webm": true, ".ogg": true, ".zip": true, ".gz": true, ".br": true,
}

// Pack writes files into a ZIP in order. Every entry carries the same
// modification time so identical inputs give identical bytes.
func Pack(files []File, modified time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		method := zip.Deflate
		if stored[strings.ToLower(path.Ext(f.Name))] {
			method = zip.Store
		}
		hdr := &zip.FileHeader{Name: f.Name, Method: method, Modified: modified.UTC()}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("pack: create %s: %w", f.Name, err)
		}
		if _, err := w.Write(f.Body); err != nil {
			return nil, fmt.Errorf("pack: write %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("pack: close: %w", err)
	}
	return buf.Bytes(), nil
}
