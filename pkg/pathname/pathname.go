// Package pathname translates between raw storage keys and logical
// pathnames, and collapses suffixed object versions into one logical file.
package pathname

import (
	"crypto/rand"
	"math/big"
	"path"
	"regexp"
	"strings"

	"github.com/fruitsalade/blobtext/pkg/models"
)

// SuffixLength is the number of characters in a random uniqueness suffix.
const SuffixLength = 21

const suffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// suffixRegex matches "-" + 21 alphanumerics before an optional extension.
var suffixRegex = regexp.MustCompile(`-[a-zA-Z0-9]{21}(\.[^.]+)?$`)

// Decode strips a random uniqueness suffix from a raw key.
// Directory marker keys are returned unchanged.
func Decode(raw string) string {
	if IsDir(raw) {
		return raw
	}
	return suffixRegex.ReplaceAllString(raw, "$1")
}

// Encode inserts "-suffix" before the extension of the final segment.
// Directory pathnames and empty suffixes leave the pathname unchanged.
func Encode(logical, suffix string) string {
	if suffix == "" || IsDir(logical) {
		return logical
	}
	dir, base := "", logical
	if i := strings.LastIndex(logical, "/"); i >= 0 {
		dir, base = logical[:i+1], logical[i+1:]
	}
	ext := path.Ext(base)
	if ext == base {
		// Dotfiles like ".env" have no stem to attach to.
		ext = ""
	}
	return dir + strings.TrimSuffix(base, ext) + "-" + suffix + ext
}

// RandomSuffix returns SuffixLength random alphanumeric characters.
func RandomSuffix() string {
	var sb strings.Builder
	sb.Grow(SuffixLength)
	max := big.NewInt(int64(len(suffixAlphabet)))
	for i := 0; i < SuffixLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("pathname: crypto/rand unavailable: " + err.Error())
		}
		sb.WriteByte(suffixAlphabet[n.Int64()])
	}
	return sb.String()
}

// Collapse groups raw objects by logical pathname and keeps the most recently
// uploaded one per group. On equal timestamps the object seen last wins.
// The result keeps the first-seen order of logical pathnames.
func Collapse(raw []models.RawObject) []models.LogicalFile {
	index := make(map[string]int, len(raw))
	latest := make([]models.RawObject, 0, len(raw))

	for _, obj := range raw {
		logical := Decode(obj.Pathname)
		i, ok := index[logical]
		if !ok {
			index[logical] = len(latest)
			latest = append(latest, obj)
			continue
		}
		if !latest[i].UploadedAt.After(obj.UploadedAt) {
			latest[i] = obj
		}
	}

	files := make([]models.LogicalFile, 0, len(latest))
	for _, obj := range latest {
		files = append(files, models.LogicalFile{
			Pathname:    Decode(obj.Pathname),
			URL:         obj.URL,
			DownloadURL: obj.DownloadURL,
			Size:        obj.Size,
			UploadedAt:  obj.UploadedAt,
			IsDirectory: IsDir(obj.Pathname) && obj.Size == 0,
		})
	}
	return files
}

// IsDir reports whether p names a directory (trailing "/").
func IsDir(p string) bool {
	return strings.HasSuffix(p, "/")
}

// TrimDir strips trailing slashes.
func TrimDir(p string) string {
	return strings.TrimRight(p, "/")
}

// Segments splits a pathname into its segments, ignoring a trailing slash.
func Segments(p string) []string {
	return strings.Split(TrimDir(p), "/")
}

// Base returns the final segment of p.
func Base(p string) string {
	segs := Segments(p)
	return segs[len(segs)-1]
}

// Parent returns the parent directory pathname of p with a trailing slash,
// or "" for root-level entries.
func Parent(p string) string {
	trimmed := TrimDir(p)
	i := strings.LastIndex(trimmed, "/")
	if i < 0 {
		return ""
	}
	return trimmed[:i+1]
}

// HasPrefixDir reports whether p lies at or below directory dir.
func HasPrefixDir(p, dir string) bool {
	if !IsDir(dir) {
		dir += "/"
	}
	return strings.HasPrefix(p, dir)
}

var multiSlash = regexp.MustCompile(`/+`)

// Compose joins a target directory and a typed name into a pathname.
// Directories get a trailing slash and repeated slashes are collapsed.
func Compose(dir, name string, isDirectory bool) string {
	if isDirectory && !IsDir(name) {
		name += "/"
	}
	dir = TrimDir(dir)
	if dir == "" {
		return name
	}
	return multiSlash.ReplaceAllString(dir+"/"+name, "/")
}
