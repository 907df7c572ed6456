package sim

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// DateFormat is the basic ISO date layout (yyyyMMdd) used as the leading
// segment of every identity and cache path.
const DateFormat = "20060102"

// idSeparator joins identity segments.
const idSeparator = ":"

// Key is the identity tuple of a simulation snapshot. Nil fields are absent
// and contribute nothing to the identity, the seed or the cache path.
type Key struct {
	Date             time.Time
	Configuration    Named
	ConfigBootstrap  *int
	Parameterisation Named
	ParamBootstrap   *int
	ExecBootstrap    *int
	Step             *int64
}

// Int returns a pointer to i, for filling the optional Key fields.
func Int(i int) *int { return &i }

// Int64 returns a pointer to i.
func Int64(i int64) *int64 { return &i }

// ID returns the URN-like identity string of the key.
//
// The parameterisation bootstrap is only emitted when a parameterisation is
// present; the configuration bootstrap is emitted whenever it is set.
func (k Key) ID() string {
	segs := []string{k.Date.Format(DateFormat)}
	if k.Configuration != nil {
		segs = append(segs, CanonicalName(k.Configuration.Name()))
	}
	if k.ConfigBootstrap != nil {
		segs = append(segs, strconv.Itoa(*k.ConfigBootstrap))
	}
	if k.Parameterisation != nil {
		segs = append(segs, CanonicalName(k.Parameterisation.Name()))
		if k.ParamBootstrap != nil {
			segs = append(segs, strconv.Itoa(*k.ParamBootstrap))
		}
	}
	if k.ExecBootstrap != nil {
		segs = append(segs, strconv.Itoa(*k.ExecBootstrap))
	}
	if k.Step != nil {
		segs = append(segs, strconv.FormatInt(*k.Step, 10))
	}
	return strings.Join(segs, idSeparator)
}

// Seed derives the RNG seed for this key from a base seed:
//
//	base*31^4 + hash(config)*31^3 + cb*31^2 + hash(param)*31 + pb
//
// evaluated in wrapping int64 arithmetic. Absent components contribute zero.
// When an execution bootstrap is present the result is mixed once more as
// seed*31 + eb, so keys without one keep the plain formula.
func (k Key) Seed(base int64) int64 {
	var hc, hp, cb, pb int64
	if k.Configuration != nil {
		hc = int64(JavaHash(k.Configuration.Name()))
	}
	if k.ConfigBootstrap != nil {
		cb = int64(*k.ConfigBootstrap)
	}
	if k.Parameterisation != nil {
		hp = int64(JavaHash(k.Parameterisation.Name()))
	}
	if k.ParamBootstrap != nil {
		pb = int64(*k.ParamBootstrap)
	}
	seed := base*923521 + hc*29791 + cb*961 + hp*31 + pb
	if k.ExecBootstrap != nil {
		seed = seed*31 + int64(*k.ExecBootstrap)
	}
	return seed
}

// RelPath maps the key to a stable slash-separated relative path ending in
// fileType. A step, when present, is appended to the last segment as -%03d.
func (k Key) RelPath(fileType string) string {
	segs := []string{k.Date.Format(DateFormat)}
	if k.Configuration != nil {
		segs = append(segs, pathSegment(k.Configuration.Name()))
	}
	if k.ConfigBootstrap != nil {
		segs = append(segs, strconv.Itoa(*k.ConfigBootstrap))
	}
	if k.Parameterisation != nil {
		segs = append(segs, pathSegment(k.Parameterisation.Name()))
	}
	if k.ParamBootstrap != nil {
		segs = append(segs, strconv.Itoa(*k.ParamBootstrap))
	}
	if k.ExecBootstrap != nil {
		segs = append(segs, strconv.Itoa(*k.ExecBootstrap))
	}
	path := strings.Join(segs, "/")
	if k.Step != nil {
		return fmt.Sprintf("%s-%03d.%s", path, *k.Step, fileType)
	}
	return path + "." + fileType
}

// EnsureDir resolves rel under root and creates its parent directories.
// Existing directories are not an error.
func EnsureDir(root, rel string) (string, error) {
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", rel, err)
	}
	return full, nil
}

// CanonicalName returns the NFC form of a configuration or parameterisation
// name so that visually identical names hash identically.
func CanonicalName(name string) string {
	return norm.NFC.String(name)
}

// JavaHash is the 31-polynomial string hash over UTF-16 code units with
// int32 wraparound. It is stable across processes and platforms.
func JavaHash(name string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(CanonicalName(name))) {
		h = 31*h + int32(u)
	}
	return h
}

func pathSegment(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", " ", "_")
	return r.Replace(CanonicalName(name))
}
