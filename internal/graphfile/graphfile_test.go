package graphfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/k0ekk0ek/cdds/internal/align"
	"github.com/k0ekk0ek/cdds/internal/layout"
	"github.com/k0ekk0ek/cdds/internal/testkit"
	"github.com/k0ekk0ek/cdds/internal/types"
)

func TestLoadShapes(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "shapes.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := testkit.CheckGraphInvariants(f.Graph); err != nil {
		t.Fatalf("graph invariants: %v", err)
	}
	if f.Jobs != 2 {
		t.Fatalf("jobs = %d, want 2", f.Jobs)
	}
	if len(f.Roots) != 3 {
		t.Fatalf("roots = %v", f.Roots)
	}

	r := layout.New(f.Graph)
	want := map[string]align.Class{
		"Point":   align.Four,
		"Points":  align.Four,
		"Shape":   align.Eight,
		"Tree":    align.Ptr,
		"Matrix":  align.Two,
		"Payload": align.Two,
		"Flag":    align.Bool,
	}
	for name, cls := range want {
		id, ok := f.Graph.ByName(name)
		if !ok {
			t.Fatalf("type %q missing", name)
		}
		got, err := r.Resolve(id)
		if err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
		if got != cls {
			t.Errorf("%s = %s, want %s", name, got, cls)
		}
	}

	m := f.Graph.MustLookup(mustByName(t, f.Graph, "Matrix"))
	if len(m.Dims) != 2 || m.Dims[0] != 3 || m.Dims[1] != 3 {
		t.Fatalf("matrix dims = %v", m.Dims)
	}
	s := f.Graph.MustLookup(mustByName(t, f.Graph, "Points"))
	if s.Bound != 16 {
		t.Fatalf("points bound = %d", s.Bound)
	}
}

func mustByName(t *testing.T, g *types.Graph, name string) types.TypeID {
	t.Helper()
	id, ok := g.ByName(name)
	if !ok {
		t.Fatalf("type %q missing", name)
	}
	return id
}

func TestParseDefaultsRootsToComposites(t *testing.T) {
	f, err := Parse("inline.toml", []byte(`
[[type]]
name = "A"
kind = "struct"
members = [{ name = "x", type = "octet" }]

[[type]]
name = "B"
kind = "typedef"
target = "A"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(f.Roots) != 2 {
		t.Fatalf("roots = %v, want A and B", f.Roots)
	}
	if f.Graph.Label(f.Roots[0]) != "A" || f.Graph.Label(f.Roots[1]) != "B" {
		t.Fatalf("unexpected root order %v", f.Roots)
	}
}

func TestParseNormalizesIdentifiers(t *testing.T) {
	// Declared precomposed, referenced with a combining acute accent.
	src := "[[type]]\nname = \"Caf\u00e9\"\nkind = \"struct\"\nmembers = [{ name = \"x\", type = \"long\" }]\n\n" +
		"[[type]]\nname = \"Holder\"\nkind = \"struct\"\nmembers = [{ name = \"c\", type = \"Cafe\u0301\" }]\n"
	f, err := Parse("nfc.toml", []byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	holder := f.Graph.MustLookup(mustByName(t, f.Graph, "Holder"))
	cafe := mustByName(t, f.Graph, "Caf\u00e9")
	if holder.Members[0].Type != cafe {
		t.Fatalf("Holder.c references type#%d, want type#%d", holder.Members[0].Type, cafe)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"empty", `[options]
jobs = 1`, "missing [[type]]"},
		{"syntax", `[[type]`, "failed to parse TOML"},
		{"unknown key", `[[type]]
name = "A"
kind = "struct"
colour = "red"`, "unknown keys"},
		{"bad kind", `[[type]]
name = "A"
kind = "class"`, "invalid type kind"},
		{"unknown member type", `[[type]]
name = "A"
kind = "struct"
members = [{ name = "x", type = "Missing" }]`, `references unknown type "Missing"`},
		{"duplicate member", `[[type]]
name = "A"
kind = "struct"
members = [{ name = "x", type = "long" }, { name = "x", type = "long" }]`, "duplicate member"},
		{"zero dim", `[[type]]
name = "A"
kind = "array"
element = "long"
dims = [0]`, "invalid dimension"},
		{"negative bound", `[[type]]
name = "A"
kind = "sequence"
element = "long"
bound = -1`, "invalid bound"},
		{"bad discriminant", `[[type]]
name = "U"
kind = "union"
discriminant = "Nope"`, "invalid discriminant"},
		{"float discriminant", `[[type]]
name = "U"
kind = "union"
discriminant = "double"`, "invalid union discriminant"},
		{"indirect typedef", `[[type]]
name = "T"
kind = "typedef"
target = "long"
indirect = true`, `typedef "T": indirect not allowed`},
		{"indirect union", `[[type]]
name = "U"
kind = "union"
discriminant = "short"
indirect = true
cases = [{ name = "a", type = "long" }]`, `union "U": indirect not allowed`},
		{"struct with element", `[[type]]
name = "S"
kind = "struct"
element = "long"
indirect = true`, `struct "S": element, indirect not allowed`},
		{"shadow primitive", `[[type]]
name = "long"
kind = "struct"`, "shadows a primitive"},
		{"unknown root", `[options]
roots = ["Z"]

[[type]]
name = "A"
kind = "struct"`, "unknown type \"Z\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.name+".toml", []byte(tt.src))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestParseUnknownTypeIsWrapped(t *testing.T) {
	_, err := Parse("x.toml", []byte(`[[type]]
name = "A"
kind = "typedef"
target = "B"`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestFileLookupNormalizes(t *testing.T) {
	f, err := Parse("lookup.toml", []byte("[[type]]\nname = \"Caf\u00e9\"\nkind = \"struct\"\nmembers = [ { name = \"x\", type = \"octet\" } ]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := f.Lookup(" Cafe\u0301 "); !ok {
		t.Fatalf("decomposed spelling should find the composed type")
	}
	if _, ok := f.Lookup("Missing"); ok {
		t.Fatalf("unexpected hit for Missing")
	}
}
