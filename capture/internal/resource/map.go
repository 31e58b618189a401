// CLAUDE:SUMMARY Mutex-guarded URL -> Asset map: collision-free archive paths, content hashes, manifest export.
// Package resource owns downloaded assets. Map is the single source of truth
// consulted by the rewriter and the packager.
package resource

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hazyhaar/pagesnap/capture/report"
)

// Dir is the archive directory holding every asset.
const Dir = "assets/"

// Asset is one successfully fetched resource.
type Asset struct {
	URL        string
	Path       string // archive-relative, "assets/<name>"
	MediaType  string
	Bytes      int64
	Content    []byte
	SHA256     string
	Stylesheet bool
}

// Map is safe for concurrent use.
type Map struct {
	mu    sync.Mutex
	byURL map[string]*Asset
	paths map[string]string // path -> url
	names map[string]int    // base filename -> times seen
	total int64
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{
		byURL: make(map[string]*Asset),
		paths: make(map[string]string),
		names: make(map[string]int),
	}
}

// Put stores content for rawURL and returns the stored asset. Filenames are
// derived from the URL and media type; a repeated filename gets a numeric
// suffix (name.ext, name-2.ext, ...). Putting an existing URL replaces its
// content but keeps its path.
func (m *Map) Put(rawURL, mediaType string, content []byte) Asset {
	mediaType = NormalizeMediaType(mediaType)

	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.byURL[rawURL]; ok {
		m.total -= a.Bytes
		a.MediaType = mediaType
		setContent(a, content)
		m.total += a.Bytes
		return *a
	}

	name := m.uniqueName(BaseName(rawURL) + Extension(rawURL, mediaType))
	a := &Asset{
		URL:        rawURL,
		Path:       Dir + name,
		MediaType:  mediaType,
		Stylesheet: IsStylesheet(rawURL, mediaType),
	}
	setContent(a, content)
	m.byURL[rawURL] = a
	m.paths[a.Path] = rawURL
	m.total += a.Bytes
	return *a
}

// uniqueName must be called with mu held.
func (m *Map) uniqueName(name string) string {
	for {
		n := m.names[name] + 1
		m.names[name] = n
		candidate := name
		if n > 1 {
			candidate = suffixed(name, n)
		}
		if _, taken := m.paths[Dir+candidate]; !taken {
			return candidate
		}
	}
}

func setContent(a *Asset, content []byte) {
	sum := sha256.Sum256(content)
	a.Content = content
	a.Bytes = int64(len(content))
	a.SHA256 = hex.EncodeToString(sum[:])
}

// SetContent replaces the content of an existing asset, recomputing its
// length and hash. It reports false when rawURL is unknown.
func (m *Map) SetContent(rawURL string, content []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byURL[rawURL]
	if !ok {
		return false
	}
	m.total -= a.Bytes
	setContent(a, content)
	m.total += a.Bytes
	return true
}

// Get returns a copy of the asset stored for rawURL.
func (m *Map) Get(rawURL string) (Asset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byURL[rawURL]
	if !ok {
		return Asset{}, false
	}
	return *a, true
}

// Lookup returns the archive path for rawURL.
func (m *Map) Lookup(rawURL string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byURL[rawURL]; ok {
		return a.Path, true
	}
	return "", false
}

// IsLocalPath reports whether p is already an archive path of this map,
// either as "assets/<name>" or as the bare "<name>" used inside stylesheets.
func (m *Map) IsLocalPath(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.paths[p]; ok {
		return true
	}
	if !strings.Contains(p, "/") {
		_, ok := m.paths[Dir+p]
		return ok
	}
	return false
}

// Len returns the number of stored assets.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byURL)
}

// TotalBytes returns the sum of all asset lengths.
func (m *Map) TotalBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Assets returns copies of every asset sorted by archive path.
func (m *Map) Assets() []Asset {
	m.mu.Lock()
	out := make([]Asset, 0, len(m.byURL))
	for _, a := range m.byURL {
		out = append(out, *a)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Manifest exports the map as URL -> path/bytes/media type/hash.
func (m *Map) Manifest() report.Manifest {
	out := make(report.Manifest)
	for _, a := range m.Assets() {
		out[a.URL] = report.ManifestEntry{
			Path:      a.Path,
			Bytes:     a.Bytes,
			MediaType: a.MediaType,
			SHA256:    a.SHA256,
		}
	}
	return out
}

func itoa(n int) string { return strconv.Itoa(n) }
