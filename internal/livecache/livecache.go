// Package livecache persists the latest raw playlist and guide bytes per
// user under <root>/liveTV/<username>/ so they can be re-served without a
// round-trip to the provider. Guide writes go through a sibling tmp file
// and an atomic rename; a reader never observes a partial epg.xml.
package livecache

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	m3uFile    = "live.m3u"
	epgFile    = "epg.xml"
	epgTmpFile = "epg.tmp"
	sharedDir  = ".shared"
)

// Cache is a per-user filesystem cache rooted at one directory.
type Cache struct {
	root string
}

// New returns a Cache rooted at root (typically $CACHE_DIR).
func New(root string) *Cache {
	return &Cache{root: root}
}

// UserDir returns the directory holding a user's cached files.
func (c *Cache) UserDir(username string) string {
	return filepath.Join(c.root, "liveTV", sanitize(username))
}

// M3UPath returns the path of the user's cached playlist.
func (c *Cache) M3UPath(username string) string {
	return filepath.Join(c.UserDir(username), m3uFile)
}

// EPGPath returns the path of the user's cached guide XML and whether it
// exists on disk.
func (c *Cache) EPGPath(username string) (string, bool) {
	path := filepath.Join(c.UserDir(username), epgFile)
	_, err := os.Stat(path)
	return path, err == nil
}

// WriteM3U stores the raw playlist text for a user.
func (c *Cache) WriteM3U(username string, data []byte) error {
	dir := c.UserDir(username)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, m3uFile), data, 0o644); err != nil {
		return fmt.Errorf("write m3u: %w", err)
	}
	return nil
}

// ReadM3U returns the user's cached playlist text.
func (c *Cache) ReadM3U(username string) ([]byte, error) {
	data, err := os.ReadFile(c.M3UPath(username))
	if err != nil {
		return nil, fmt.Errorf("read m3u: %w", err)
	}
	return data, nil
}

// WriteEPG stores decompressed guide XML for a user via tmp-and-rename.
func (c *Cache) WriteEPG(username string, data []byte) error {
	return c.writeEPGFrom(username, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// InstallEPG copies an already-decompressed guide file (typically a shared
// spool written once per upstream URL) into the user's cache.
func (c *Cache) InstallEPG(username, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer src.Close()
	return c.writeEPGFrom(username, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
}

func (c *Cache) writeEPGFrom(username string, fill func(io.Writer) error) error {
	dir := c.UserDir(username)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp := filepath.Join(dir, epgTmpFile)
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create epg tmp: %w", err)
	}
	if err := fill(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write epg tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close epg tmp: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, epgFile)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename epg: %w", err)
	}
	return nil
}

// SpoolShared decompresses-once semantics for gzipped guides shared by
// several users: r is drained into <root>/liveTV/.shared/<key>.xml (itself
// written via tmp-and-rename) and the final path is returned. Subscribers
// then InstallEPG from that path instead of re-consuming the stream.
func (c *Cache) SpoolShared(key string, r io.Reader) (string, error) {
	dir := filepath.Join(c.root, "liveTV", sharedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	final := filepath.Join(dir, key+".xml")
	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create spool: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write spool: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close spool: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename spool: %w", err)
	}
	return final, nil
}

// URLKey derives a stable filesystem-safe spool key from an upstream URL.
func URLKey(url string) string {
	h := sha256.Sum256([]byte(url))
	return fmt.Sprintf("%x", h[:8])
}

// sanitize keeps usernames from escaping the cache root.
func sanitize(username string) string {
	username = strings.ReplaceAll(username, "/", "_")
	username = strings.ReplaceAll(username, "\\", "_")
	username = strings.ReplaceAll(username, "..", "_")
	if username == "" {
		username = "_"
	}
	return username
}
