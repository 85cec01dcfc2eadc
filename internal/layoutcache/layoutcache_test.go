package layoutcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/k0ekk0ek/cdds/internal/align"
	"github.com/k0ekk0ek/cdds/internal/layout"
	"github.com/k0ekk0ek/cdds/internal/types"
)

func sampleGraph(t *testing.T) (*types.Graph, []types.TypeID) {
	t.Helper()
	b := types.NewBuilder()
	a, err := b.Struct("A", types.Member{Name: "f", Type: b.Primitive(types.PrimBoolean)})
	if err != nil {
		t.Fatal(err)
	}
	c, err := b.Struct("C", types.Member{Name: "d", Type: b.Primitive(types.PrimDouble)})
	if err != nil {
		t.Fatal(err)
	}
	return b.Build(), []types.TypeID{a, c}
}

func TestPutGetRoundTrip(t *testing.T) {
	c, err := OpenAt(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	g, roots := sampleGraph(t)
	results, err := layout.New(g).ResolveAll(context.Background(), roots, 1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	key := KeyFor(g, roots)

	if _, ok, err := c.Get(key); err != nil || ok {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}
	if err := c.Put(key, results); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := c.Get(key)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[0].Class != align.OneOrBool || got[1].Class != align.Eight {
		t.Fatalf("unexpected results %+v", got)
	}
	if got[0].Name != "A" || !got[0].Export.Uncertain {
		t.Fatalf("unexpected first result %+v", got[0])
	}

	if err := c.DropAll(); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, ok, _ := c.Get(key); ok {
		t.Fatal("payload survived DropAll")
	}
}

func TestKeyDependsOnRoots(t *testing.T) {
	g, roots := sampleGraph(t)
	if KeyFor(g, roots) == KeyFor(g, roots[:1]) {
		t.Fatal("different roots must produce different keys")
	}
	if KeyFor(g, roots) != KeyFor(g, roots) {
		t.Fatal("key must be stable")
	}
}

func TestStaleSchemaIsMiss(t *testing.T) {
	c, err := OpenAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	g, roots := sampleGraph(t)
	key := KeyFor(g, roots)

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := msgpack.Marshal(&Payload{Schema: schemaVersion + 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Get(key); err != nil || ok {
		t.Fatalf("stale payload: ok=%v err=%v", ok, err)
	}
}

func TestOpenHonorsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", dir)
	c, err := Open("cdds-align")
	if err != nil {
		t.Fatal(err)
	}
	if c.Dir() != filepath.Join(dir, "cdds-align") {
		t.Fatalf("dir = %q", c.Dir())
	}
}
