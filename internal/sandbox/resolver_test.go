package sandbox

import (
	"testing"

	"github.com/triggerkit/triggerkit/internal/project"
)

func newTestProject(t *testing.T, files map[string]string, entrypoint string) *project.Project {
	t.Helper()
	p, err := project.New(files, entrypoint)
	if err != nil {
		t.Fatalf("building project: %v", err)
	}
	return p
}

func TestResolverExtensionOrder(t *testing.T) {
	tests := []struct {
		name      string
		files     map[string]string
		specifier string
		fromFile  string
		want      string
	}{
		{
			name:      "exact path wins over extensions",
			files:     map[string]string{"main.js": "", "mod": "", "mod.js": ""},
			specifier: "./mod",
			fromFile:  "main.js",
			want:      "mod",
		},
		{
			name:      "js preferred over json",
			files:     map[string]string{"main.js": "", "lib.js": "", "lib.json": "{}"},
			specifier: "./lib",
			fromFile:  "main.js",
			want:      "lib.js",
		},
		{
			name:      "json when no js exists",
			files:     map[string]string{"main.js": "", "data.json": "{}"},
			specifier: "./data",
			fromFile:  "main.js",
			want:      "data.json",
		},
		{
			name:      "directory index",
			files:     map[string]string{"main.js": "", "util/index.js": ""},
			specifier: "./util",
			fromFile:  "main.js",
			want:      "util/index.js",
		},
		{
			name:      "file preferred over directory index",
			files:     map[string]string{"main.js": "", "util.js": "", "util/index.js": ""},
			specifier: "./util",
			fromFile:  "main.js",
			want:      "util.js",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(newTestProject(t, tt.files, "main.js"))
			got, ok := r.Resolve(tt.specifier, tt.fromFile)
			if !ok {
				t.Fatalf("Resolve(%q, %q) found nothing", tt.specifier, tt.fromFile)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q, %q) = %q, want %q", tt.specifier, tt.fromFile, got, tt.want)
			}
		})
	}
}

func TestResolverCanonicalEquality(t *testing.T) {
	p := newTestProject(t, map[string]string{
		"main.js":  "",
		"dir/a.js": "",
		"dir/b.js": "",
		"sub/c.js": "",
	}, "main.js")
	r := NewResolver(p)

	fromB, ok := r.Resolve("./a", "dir/b.js")
	if !ok {
		t.Fatal("resolving ./a from dir/b.js failed")
	}
	fromC, ok := r.Resolve("../dir/a", "sub/c.js")
	if !ok {
		t.Fatal("resolving ../dir/a from sub/c.js failed")
	}

	if fromB != fromC {
		t.Errorf("canonical paths differ: %q vs %q", fromB, fromC)
	}
	if fromB != "dir/a.js" {
		t.Errorf("resolved to %q, want dir/a.js", fromB)
	}
}

func TestResolverRootRelative(t *testing.T) {
	p := newTestProject(t, map[string]string{
		"main.js":      "",
		"lib/thing.js": "",
	}, "main.js")
	r := NewResolver(p)

	got, ok := r.Resolve("lib/thing", "main.js")
	if !ok || got != "lib/thing.js" {
		t.Errorf("Resolve(lib/thing) = %q, %v; want lib/thing.js, true", got, ok)
	}

	// Bare specifiers resolve from the root even deep in the tree.
	got, ok = r.Resolve("lib/thing", "lib/thing.js")
	if !ok || got != "lib/thing.js" {
		t.Errorf("Resolve(lib/thing from lib) = %q, %v; want lib/thing.js, true", got, ok)
	}
}

func TestResolverRejectsEscape(t *testing.T) {
	p := newTestProject(t, map[string]string{"main.js": ""}, "main.js")
	r := NewResolver(p)

	if _, ok := r.Resolve("../../etc/passwd", "main.js"); ok {
		t.Error("resolver allowed escape above project root")
	}
}

func TestResolverMemoizesMisses(t *testing.T) {
	p := newTestProject(t, map[string]string{"main.js": ""}, "main.js")
	r := NewResolver(p)

	if _, ok := r.Resolve("./missing", "main.js"); ok {
		t.Fatal("resolved a module that does not exist")
	}

	res, cached := r.memo[memoKey{fromFile: "main.js", specifier: "./missing"}]
	if !cached {
		t.Fatal("miss was not memoized")
	}
	if res.found {
		t.Error("memoized miss recorded as found")
	}

	// Second lookup returns the same negative answer.
	if _, ok := r.Resolve("./missing", "main.js"); ok {
		t.Error("memoized miss resolved on second lookup")
	}
}
