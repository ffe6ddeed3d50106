// Package diskcache is a content-addressed file cache on persistent storage
// with TTL and total-size eviction, oldest-access-first.
package diskcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wudi/pdfview/observability"
)

const (
	// fileSuffix marks cache entries; anything else in the directory is
	// left alone.
	fileSuffix = ".pdf"
	// tmpSuffix marks in-progress downloads next to their canonical path.
	tmpSuffix = ".tmp"
	// hashLen truncates the hex digest used as the filename stem. Collision
	// risk is negligible at expected cache populations.
	hashLen = 32
)

// Policy controls how entries age out of the cache.
type Policy struct {
	// MaxAge is how long an entry stays fresh after its last write/access.
	// Zero disables age checks.
	MaxAge time.Duration
	// MaxSizeBytes bounds the summed size of all entries, enforced at
	// write time by evicting oldest-access-first.
	MaxSizeBytes int64
	// ValidateOnAccess makes Get enforce MaxAge.
	ValidateOnAccess bool
	// StaleWhileRevalidate makes Get serve an expired entry (marked stale)
	// instead of deleting it.
	StaleWhileRevalidate bool
}

// DefaultPolicy keeps entries for seven days within a 256 MiB budget.
func DefaultPolicy() Policy {
	return Policy{
		MaxAge:           7 * 24 * time.Hour,
		MaxSizeBytes:     256 << 20,
		ValidateOnAccess: true,
	}
}

// Entry describes one cached file. File mtime doubles as the last-access
// timestamp: Get bumps it, eviction orders by it.
type Entry struct {
	Key        string
	Path       string
	LastAccess time.Time
	LastWrite  time.Time
	SizeBytes  int64
}

// Manager is a disk cache rooted at one directory. Operations are serialized
// per instance so size accounting and eviction never run concurrently with
// another write. Delete and touch failures are best-effort and never abort
// the surrounding operation.
type Manager struct {
	mu  sync.Mutex
	dir string
	log observability.Logger
}

// New creates the cache directory if needed and returns a manager over it.
func New(dir string, log observability.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskcache: create %s: %w", dir, err)
	}
	return &Manager{dir: dir, log: observability.OrNop(log)}, nil
}

// Dir returns the cache root.
func (m *Manager) Dir() string { return m.dir }

// HashKey maps a logical cache key (URL or explicit key string) to the
// filename stem: SHA-256 over the UTF-8 bytes, hex, truncated.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// CacheFile returns the deterministic canonical path for key. Callers either
// download straight to it or to a .tmp sibling followed by an atomic rename,
// so a crash mid-download never leaves a corrupt file at the canonical path.
func (m *Manager) CacheFile(key string) string {
	return filepath.Join(m.dir, HashKey(key)+fileSuffix)
}

// Get returns the cached path for key if present under the policy. stale is
// true only when an expired entry is served because the policy allows it.
// A fresh hit bumps the entry's access time.
func (m *Manager) Get(key string, policy Policy) (path string, stale bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = m.CacheFile(key)
	info, err := os.Stat(path)
	if err != nil {
		return "", false, false
	}

	if policy.ValidateOnAccess && policy.MaxAge > 0 && time.Since(info.ModTime()) > policy.MaxAge {
		if policy.StaleWhileRevalidate {
			return path, true, true
		}
		if err := os.Remove(path); err != nil {
			m.log.Warn("expired entry delete failed",
				observability.String("path", path), observability.Error("err", err))
		}
		return "", false, false
	}

	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		m.log.Warn("access-time touch failed",
			observability.String("path", path), observability.Error("err", err))
	}
	return path, false, true
}

// Put registers file as the entry for key, stamping its write time, then
// enforces the policy's total-size limit by deleting oldest-access-first
// until the cache fits the budget.
func (m *Manager) Put(key, file string, policy Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	canonical := m.CacheFile(key)
	if file != canonical {
		if err := os.Rename(file, canonical); err != nil {
			return fmt.Errorf("diskcache: move into cache: %w", err)
		}
	}
	now := time.Now()
	if err := os.Chtimes(canonical, now, now); err != nil {
		m.log.Warn("write-time stamp failed",
			observability.String("path", canonical), observability.Error("err", err))
	}

	if policy.MaxSizeBytes > 0 {
		m.enforceSizeLocked(policy.MaxSizeBytes)
	}
	return nil
}

// Remove deletes the entry for key, if present.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := m.CacheFile(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.log.Warn("entry delete failed",
			observability.String("path", path), observability.Error("err", err))
	}
}

// Clear deletes every entry and any leftover temp files.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entriesLocked(true) {
		if err := os.Remove(e.Path); err != nil {
			m.log.Warn("entry delete failed",
				observability.String("path", e.Path), observability.Error("err", err))
		}
	}
}

// CleanExpired deletes every entry older than the policy's MaxAge.
func (m *Manager) CleanExpired(policy Policy) {
	if policy.MaxAge <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-policy.MaxAge)
	for _, e := range m.entriesLocked(false) {
		if e.LastAccess.Before(cutoff) {
			if err := os.Remove(e.Path); err != nil {
				m.log.Warn("expired entry delete failed",
					observability.String("path", e.Path), observability.Error("err", err))
			}
		}
	}
}

// Entries lists the cache's current contents, oldest access first.
func (m *Manager) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entriesLocked(false)
}

// SizeBytes sums the size of all entries.
func (m *Manager) SizeBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, e := range m.entriesLocked(false) {
		total += e.SizeBytes
	}
	return total
}

// entriesLocked scans the cache directory. includeTemps also lists .tmp
// leftovers (for Clear). Unreadable entries are skipped.
func (m *Manager) entriesLocked(includeTemps bool) []Entry {
	dirents, err := os.ReadDir(m.dir)
	if err != nil {
		m.log.Warn("cache scan failed", observability.Error("err", err))
		return nil
	}
	var out []Entry
	for _, de := range dirents {
		name := de.Name()
		isEntry := strings.HasSuffix(name, fileSuffix)
		isTemp := strings.HasSuffix(name, tmpSuffix)
		if de.IsDir() || (!isEntry && !(includeTemps && isTemp)) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Key:        strings.TrimSuffix(name, fileSuffix),
			Path:       filepath.Join(m.dir, name),
			LastAccess: info.ModTime(),
			LastWrite:  info.ModTime(),
			SizeBytes:  info.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccess.Before(out[j].LastAccess) })
	return out
}

func (m *Manager) enforceSizeLocked(maxBytes int64) {
	entries := m.entriesLocked(false)
	var total int64
	for _, e := range entries {
		total += e.SizeBytes
	}
	for _, e := range entries {
		if total <= maxBytes {
			break
		}
		if err := os.Remove(e.Path); err != nil {
			m.log.Warn("eviction delete failed",
				observability.String("path", e.Path), observability.Error("err", err))
			continue
		}
		total -= e.SizeBytes
		m.log.Debug("evicted cache entry",
			observability.String("path", e.Path), observability.Int64("bytes", e.SizeBytes))
	}
}
