package livecache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteReadM3U(t *testing.T) {
	c := New(t.TempDir())
	if err := c.WriteM3U("alice", []byte("#EXTM3U\n")); err != nil {
		t.Fatalf("WriteM3U: %v", err)
	}
	data, err := c.ReadM3U("alice")
	if err != nil {
		t.Fatalf("ReadM3U: %v", err)
	}
	if string(data) != "#EXTM3U\n" {
		t.Errorf("unexpected playlist %q", data)
	}
}

func TestWriteEPG(t *testing.T) {
	c := New(t.TempDir())
	if err := c.WriteEPG("alice", []byte("<tv></tv>")); err != nil {
		t.Fatalf("WriteEPG: %v", err)
	}
	path, ok := c.EPGPath("alice")
	if !ok {
		t.Fatal("expected epg.xml to exist")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read epg: %v", err)
	}
	if string(data) != "<tv></tv>" {
		t.Errorf("unexpected guide %q", data)
	}
	// The intermediate tmp file must not survive the rename.
	if _, err := os.Stat(filepath.Join(c.UserDir("alice"), "epg.tmp")); !os.IsNotExist(err) {
		t.Error("epg.tmp left behind after write")
	}
}

func TestEPGPathMissing(t *testing.T) {
	c := New(t.TempDir())
	if _, ok := c.EPGPath("nobody"); ok {
		t.Error("expected no guide for unknown user")
	}
}

func TestSpoolSharedAndInstall(t *testing.T) {
	c := New(t.TempDir())
	key := URLKey("http://upstream/epg.xml.gz")
	path, err := c.SpoolShared(key, strings.NewReader("<tv><channel id=\"a\"/></tv>"))
	if err != nil {
		t.Fatalf("SpoolShared: %v", err)
	}
	if !strings.HasSuffix(path, key+".xml") {
		t.Errorf("unexpected spool path %q", path)
	}

	for _, user := range []string{"alice", "bob"} {
		if err := c.InstallEPG(user, path); err != nil {
			t.Fatalf("InstallEPG(%s): %v", user, err)
		}
		p, ok := c.EPGPath(user)
		if !ok {
			t.Fatalf("expected guide for %s", user)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read guide: %v", err)
		}
		if string(data) != "<tv><channel id=\"a\"/></tv>" {
			t.Errorf("guide for %s differs from spool: %q", user, data)
		}
	}
}

func TestURLKeyStable(t *testing.T) {
	a := URLKey("http://upstream/epg.xml.gz")
	b := URLKey("http://upstream/epg.xml.gz")
	if a != b {
		t.Errorf("key not stable: %q vs %q", a, b)
	}
	if a == URLKey("http://other/epg.xml.gz") {
		t.Error("distinct urls share a key")
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %q", a)
	}
}

func TestSanitizeUsername(t *testing.T) {
	c := New(t.TempDir())
	dir := c.UserDir("../../etc/passwd")
	if strings.Contains(dir, "..") {
		t.Errorf("user dir escapes cache root: %q", dir)
	}
	if !strings.HasPrefix(dir, c.root) {
		t.Errorf("user dir %q not under root %q", dir, c.root)
	}
}
