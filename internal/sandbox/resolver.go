package sandbox

import (
	"path"
	"strings"

	"github.com/triggerkit/triggerkit/internal/project"
)

// moduleExtensions is the fixed search order appended to a candidate path:
// the exact path first, then each extension, then the index-file variant of
// each extension.
var moduleExtensions = []string{".js", ".json"}

// Resolver maps import specifiers to canonical project paths. Results are
// memoized per (fromFile, specifier) pair, including misses, so repeated
// failed imports stay cheap.
type Resolver struct {
	project *project.Project
	memo    map[memoKey]resolution
}

type memoKey struct {
	fromFile  string
	specifier string
}

type resolution struct {
	path  string
	found bool
}

func NewResolver(p *project.Project) *Resolver {
	return &Resolver{
		project: p,
		memo:    make(map[memoKey]resolution),
	}
}

// IsRelative reports whether a specifier carries a relative marker. Anything
// else resolves against the project root (after host resolution has been
// tried by the loader).
func IsRelative(specifier string) bool {
	return strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") || specifier == "." || specifier == ".."
}

// Resolve maps a specifier imported from fromFile to a canonical project
// path. The second return value is false when nothing in the project
// satisfies the specifier.
func (r *Resolver) Resolve(specifier, fromFile string) (string, bool) {
	key := memoKey{fromFile: fromFile, specifier: specifier}
	if res, ok := r.memo[key]; ok {
		return res.path, res.found
	}

	resolved, found := r.resolve(specifier, fromFile)
	r.memo[key] = resolution{path: resolved, found: found}
	return resolved, found
}

func (r *Resolver) resolve(specifier, fromFile string) (string, bool) {
	var base string
	if IsRelative(specifier) {
		base = path.Join(path.Dir(fromFile), specifier)
	} else {
		base = specifier
	}

	candidate := project.Canonical(base)
	if candidate == "" || strings.HasPrefix(candidate, "..") {
		return "", false
	}

	for _, try := range candidates(candidate) {
		if _, ok := r.project.File(try); ok {
			return try, true
		}
	}
	return "", false
}

func candidates(base string) []string {
	tries := make([]string, 0, 1+2*len(moduleExtensions))
	tries = append(tries, base)
	for _, ext := range moduleExtensions {
		tries = append(tries, base+ext)
	}
	for _, ext := range moduleExtensions {
		tries = append(tries, path.Join(base, "index"+ext))
	}
	return tries
}
