// Package interpolate substitutes ${key} expressions and @key@ tokens from
// a map of values. Unknown keys are left untouched.
package interpolate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

var (
	expressionPattern = regexp.MustCompile(`\$\{([^${}]+)\}`)
	tokenPattern      = regexp.MustCompile(`@([A-Za-z0-9_.\-]+)@`)
)

// Interpolator resolves keys against a fixed value source
type Interpolator struct {
	values map[string]string
}

// New creates an Interpolator over values. The map is copied.
func New(values map[string]string) *Interpolator {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Interpolator{values: copied}
}

// Get returns the value for key
func (i *Interpolator) Get(key string) (string, bool) {
	v, ok := i.values[key]
	return v, ok
}

// Values returns a copy of the value source
func (i *Interpolator) Values() map[string]string {
	copied := make(map[string]string, len(i.values))
	for k, v := range i.values {
		copied[k] = v
	}
	return copied
}

// Expression replaces every ${key} in s
func (i *Interpolator) Expression(s string) string {
	return replace(expressionPattern, s, i.values)
}

// Token replaces every @key@ in s
func (i *Interpolator) Token(s string) string {
	return replace(tokenPattern, s, i.values)
}

func replace(re *regexp.Regexp, s string, values map[string]string) string {
	if !strings.ContainsAny(s, "$@") {
		return s
	}
	return re.ReplaceAllStringFunc(s, func(match string) string {
		key := re.FindStringSubmatch(match)[1]
		if v, ok := values[strings.TrimSpace(key)]; ok {
			return v
		}
		return match
	})
}

// FilterFile writes src to dst with @key@ tokens replaced. src and dst may
// be the same file.
func (i *Interpolator) FilterFile(fs afero.Fs, src, dst string) error {
	data, err := afero.ReadFile(fs, src)
	if err != nil {
		return fmt.Errorf("failed to interpolate file %s: %w", src, err)
	}

	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to interpolate file %s: %w", src, err)
	}

	if err := afero.WriteFile(fs, dst, []byte(i.Token(string(data))), 0o644); err != nil {
		return fmt.Errorf("failed to interpolate file %s: %w", src, err)
	}
	return nil
}

// ValueSource builds the standard value source: the given properties plus
// basedir, baseurl, localRepository and localRepositoryUrl. Later maps win.
func ValueSource(basedir, localRepository string, props ...map[string]string) map[string]string {
	values := make(map[string]string)
	for _, p := range props {
		for k, v := range p {
			values[k] = v
		}
	}

	if basedir != "" {
		values["basedir"] = basedir
		values["baseurl"] = ToURL(basedir)
	}
	if localRepository != "" {
		values["localRepository"] = localRepository
		values["localRepositoryUrl"] = ToURL(localRepository)
	}
	return values
}

// ToURL converts a filesystem path to a file: URL without a trailing slash
func ToURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	abs = filepath.ToSlash(abs)
	if !strings.HasPrefix(abs, "/") {
		abs = "/" + abs
	}
	return "file://" + strings.TrimSuffix(abs, "/")
}
