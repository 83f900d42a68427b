package project

import (
	"errors"
	"testing"

	"github.com/triggerkit/triggerkit/internal/domain"
)

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, "main.js"); !errors.Is(err, domain.ErrEmptyProject) {
		t.Errorf("empty files: err = %v, want ErrEmptyProject", err)
	}
	if _, err := New(map[string]string{"main.js": ""}, ""); !errors.Is(err, domain.ErrMissingEntrypoint) {
		t.Errorf("empty entrypoint: err = %v, want ErrMissingEntrypoint", err)
	}
	if _, err := New(map[string]string{"../escape.js": ""}, "main.js"); err == nil {
		t.Error("path escaping the root must be rejected")
	}
}

func TestNewCopiesFiles(t *testing.T) {
	files := map[string]string{"main.js": "original"}
	p, err := New(files, "main.js")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	files["main.js"] = "mutated"
	files["extra.js"] = ""

	if src, _ := p.File("main.js"); src != "original" {
		t.Error("caller mutation reached the project's file map")
	}
	if _, ok := p.File("extra.js"); ok {
		t.Error("file added after construction is visible in the project")
	}
	if p.Len() != 1 {
		t.Errorf("Len = %d, want 1", p.Len())
	}
}

func TestCanonicalPaths(t *testing.T) {
	p, err := New(map[string]string{"./lib/a.js": "", "/main.js": ""}, "main.js")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, ok := p.File("lib/a.js"); !ok {
		t.Error("./lib/a.js was not canonicalized to lib/a.js")
	}
	if _, ok := p.File("main.js"); !ok {
		t.Error("/main.js was not canonicalized to main.js")
	}
}

func TestDigest(t *testing.T) {
	base := map[string]string{"main.js": "a", "lib.js": "b"}

	p1, _ := New(base, "main.js")
	p2, _ := New(map[string]string{"lib.js": "b", "main.js": "a"}, "main.js")
	if p1.Digest() != p2.Digest() {
		t.Error("identical projects produced different digests")
	}

	changed, _ := New(map[string]string{"main.js": "a", "lib.js": "c"}, "main.js")
	if changed.Digest() == p1.Digest() {
		t.Error("content change did not change the digest")
	}

	otherEntry, _ := New(base, "lib.js")
	if otherEntry.Digest() == p1.Digest() {
		t.Error("entry point change did not change the digest")
	}

	if p1.Digest() != p1.Digest() {
		t.Error("digest is not stable across calls")
	}
}
