// Package project holds the immutable in-memory file set an invocation
// executes against. A fresh Project is constructed for every invocation so no
// state can leak between logical runs.
package project

import (
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/triggerkit/triggerkit/internal/domain"
)

// Project is a virtual file tree plus an entry point. Files are keyed by
// canonical project-root-relative paths.
type Project struct {
	files      map[string]string
	entrypoint string
	digest     string
}

// New builds a Project from a path->source map. The input map is copied, so
// later mutation by the caller cannot affect the project.
func New(files map[string]string, entrypoint string) (*Project, error) {
	if len(files) == 0 {
		return nil, domain.ErrEmptyProject
	}
	if entrypoint == "" {
		return nil, domain.ErrMissingEntrypoint
	}

	canonical := make(map[string]string, len(files))
	for name, src := range files {
		cleaned := Canonical(name)
		if cleaned == "" || strings.HasPrefix(cleaned, "..") {
			return nil, fmt.Errorf("invalid project file path %q", name)
		}
		canonical[cleaned] = src
	}

	return &Project{
		files:      canonical,
		entrypoint: Canonical(entrypoint),
	}, nil
}

// FromUserCode builds a Project from the wire shape of an inbound event.
func FromUserCode(uc domain.UserCode) (*Project, error) {
	return New(uc.Files, uc.Entrypoint)
}

// Canonical normalizes a project-relative path textually: no filesystem is
// involved, the whole tree is virtual.
func Canonical(p string) string {
	cleaned := path.Clean(strings.TrimPrefix(p, "/"))
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// File returns the source text stored under a canonical path.
func (p *Project) File(name string) (string, bool) {
	src, ok := p.files[name]
	return src, ok
}

// Entrypoint returns the module path evaluated for trigger registrations.
func (p *Project) Entrypoint() string {
	return p.entrypoint
}

// Len returns the number of files in the project.
func (p *Project) Len() int {
	return len(p.files)
}

// Digest returns a deterministic content digest of the file set and entry
// point, used as a cache key for definitions.
func (p *Project) Digest() string {
	if p.digest != "" {
		return p.digest
	}

	names := make([]string, 0, len(p.files))
	for name := range p.files {
		names = append(names, name)
	}
	sort.Strings(names)

	hasher := blake3.New()
	hasher.Write([]byte(p.entrypoint))
	for _, name := range names {
		hasher.Write([]byte{0})
		hasher.Write([]byte(name))
		hasher.Write([]byte{0})
		hasher.Write([]byte(p.files[name]))
	}
	p.digest = hex.EncodeToString(hasher.Sum(nil))
	return p.digest
}
