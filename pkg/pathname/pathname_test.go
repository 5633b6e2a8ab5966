package pathname

import (
	"regexp"
	"testing"
	"time"

	"github.com/fruitsalade/blobtext/pkg/models"
)

const testSuffix = "AbCdEfGhIjKlMnOpQrStU"

func TestDecode(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{"notes-" + testSuffix + ".txt", "notes.txt"},
		{"dir/notes-" + testSuffix + ".txt", "dir/notes.txt"},
		{"README-" + testSuffix, "README"},
		{"archive.tar-" + testSuffix + ".gz", "archive.tar.gz"},
		{"notes.txt", "notes.txt"},
		{"folder/", "folder/"},
		{"a/b/c/", "a/b/c/"},
		// 20 characters is not a suffix.
		{"notes-AbCdEfGhIjKlMnOpQrSt.txt", "notes-AbCdEfGhIjKlMnOpQrSt.txt"},
		{"my-file.txt", "my-file.txt"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Decode(tt.raw); got != tt.want {
			t.Errorf("Decode(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestDecodeIdempotent(t *testing.T) {
	for _, logical := range []string{"a.txt", "dir/b.md", "c", "x/y/z.tar.gz", ".env", "folder/"} {
		raw := Encode(logical, RandomSuffix())
		once := Decode(raw)
		if once != logical {
			t.Errorf("Decode(Encode(%q)) = %q", logical, once)
		}
		if twice := Decode(once); twice != once {
			t.Errorf("Decode not idempotent for %q: %q -> %q", raw, once, twice)
		}
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		logical, suffix, want string
	}{
		{"a.txt", testSuffix, "a-" + testSuffix + ".txt"},
		{"dir/a.txt", testSuffix, "dir/a-" + testSuffix + ".txt"},
		{"a", testSuffix, "a-" + testSuffix},
		{".env", testSuffix, ".env-" + testSuffix},
		{"dir/", testSuffix, "dir/"},
		{"a.txt", "", "a.txt"},
	}
	for _, tt := range tests {
		if got := Encode(tt.logical, tt.suffix); got != tt.want {
			t.Errorf("Encode(%q, %q) = %q, want %q", tt.logical, tt.suffix, got, tt.want)
		}
	}
}

func TestRandomSuffix(t *testing.T) {
	re := regexp.MustCompile(`^[a-zA-Z0-9]{21}$`)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s := RandomSuffix()
		if !re.MatchString(s) {
			t.Fatalf("RandomSuffix() = %q, not 21 alphanumerics", s)
		}
		if seen[s] {
			t.Fatalf("RandomSuffix() repeated %q", s)
		}
		seen[s] = true
	}
}

func TestCollapseKeepsLatest(t *testing.T) {
	base := time.Date(2024, 11, 23, 12, 0, 0, 0, time.UTC)
	raw := []models.RawObject{
		{Pathname: "a-" + testSuffix + ".txt", URL: "u1", Size: 1, UploadedAt: base},
		{Pathname: "folder/", URL: "u-dir", Size: 0, UploadedAt: base},
		{Pathname: "a-ZZZZZZZZZZZZZZZZZZZZZ.txt", URL: "u3", Size: 3, UploadedAt: base.Add(2 * time.Minute)},
		{Pathname: "a-YYYYYYYYYYYYYYYYYYYYY.txt", URL: "u2", Size: 2, UploadedAt: base.Add(time.Minute)},
	}

	files := Collapse(raw)
	if len(files) != 2 {
		t.Fatalf("Collapse returned %d files, want 2", len(files))
	}

	if files[0].Pathname != "a.txt" || files[0].URL != "u3" || files[0].Size != 3 {
		t.Errorf("files[0] = %+v, want a.txt from u3", files[0])
	}
	if files[0].IsDirectory {
		t.Error("a.txt should not be a directory")
	}
	if files[1].Pathname != "folder/" || !files[1].IsDirectory {
		t.Errorf("files[1] = %+v, want directory folder/", files[1])
	}
}

func TestCollapseTieLastSeenWins(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := []models.RawObject{
		{Pathname: "a-" + testSuffix + ".txt", URL: "first", UploadedAt: at},
		{Pathname: "a-ZZZZZZZZZZZZZZZZZZZZZ.txt", URL: "second", UploadedAt: at},
	}
	files := Collapse(raw)
	if len(files) != 1 || files[0].URL != "second" {
		t.Fatalf("Collapse tie = %+v, want URL second", files)
	}
}

func TestCollapseNonEmptySlashKeyIsNotDirectory(t *testing.T) {
	files := Collapse([]models.RawObject{{Pathname: "odd/", URL: "u", Size: 4}})
	if files[0].IsDirectory {
		t.Error("a non-empty object with a trailing slash is not a directory marker")
	}
}

func TestCollapseEmpty(t *testing.T) {
	if files := Collapse(nil); len(files) != 0 {
		t.Errorf("Collapse(nil) = %v", files)
	}
}

func TestPathHelpers(t *testing.T) {
	tests := []struct {
		p, base, parent string
	}{
		{"a.txt", "a.txt", ""},
		{"dir/a.txt", "a.txt", "dir/"},
		{"dir/", "dir", ""},
		{"a/b/c/", "c", "a/b/"},
	}
	for _, tt := range tests {
		if got := Base(tt.p); got != tt.base {
			t.Errorf("Base(%q) = %q, want %q", tt.p, got, tt.base)
		}
		if got := Parent(tt.p); got != tt.parent {
			t.Errorf("Parent(%q) = %q, want %q", tt.p, got, tt.parent)
		}
	}

	if !HasPrefixDir("folder/a.txt", "folder/") || !HasPrefixDir("folder/a.txt", "folder") {
		t.Error("HasPrefixDir should match descendants")
	}
	if HasPrefixDir("folderx/a.txt", "folder") {
		t.Error("HasPrefixDir must not match sibling prefixes")
	}
}

func TestCompose(t *testing.T) {
	tests := []struct {
		dir, name string
		isDir     bool
		want      string
	}{
		{"", "a.txt", false, "a.txt"},
		{"", "docs", true, "docs/"},
		{"folder/", "a.txt", false, "folder/a.txt"},
		{"folder", "sub", true, "folder/sub/"},
		{"folder//", "/a.txt", false, "folder/a.txt"},
	}
	for _, tt := range tests {
		if got := Compose(tt.dir, tt.name, tt.isDir); got != tt.want {
			t.Errorf("Compose(%q, %q, %v) = %q, want %q", tt.dir, tt.name, tt.isDir, got, tt.want)
		}
	}
}
