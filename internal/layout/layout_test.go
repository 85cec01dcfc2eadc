package layout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/k0ekk0ek/cdds/internal/align"
	"github.com/k0ekk0ek/cdds/internal/types"
)

func field(name string, id types.TypeID) types.Member {
	return types.Member{Name: name, Type: id}
}

func mustID(t *testing.T) func(types.TypeID, error) types.TypeID {
	return func(id types.TypeID, err error) types.TypeID {
		t.Helper()
		if err != nil {
			t.Fatalf("build graph: %v", err)
		}
		return id
	}
}

func mustResolve(t *testing.T, r *Resolver, id types.TypeID) align.Class {
	t.Helper()
	cls, err := r.Resolve(id)
	if err != nil {
		t.Fatalf("resolve %s: %v", r.Graph.Label(id), err)
	}
	return cls
}

func wantLayoutError(t *testing.T, err error, kind LayoutErrorKind) *LayoutError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	var lerr *LayoutError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *LayoutError, got %T (%v)", err, err)
	}
	if lerr.Kind != kind {
		t.Fatalf("expected %s, got %s (%v)", kind, lerr.Kind, lerr)
	}
	return lerr
}

func TestResolvePrimitives(t *testing.T) {
	b := types.NewBuilder()
	ids := make(map[types.Primitive]types.TypeID)
	for _, p := range types.Primitives() {
		ids[p] = b.Primitive(p)
	}
	r := New(b.Build())
	for p, id := range ids {
		if got := mustResolve(t, r, id); got != p.Align() {
			t.Errorf("%s resolved to %s, want %s", p, got, p.Align())
		}
	}
}

func TestResolveStructFold(t *testing.T) {
	b := types.NewBuilder()
	boolean := b.Primitive(types.PrimBoolean)
	i64 := b.Primitive(types.PrimLongLong)
	i16 := b.Primitive(types.PrimShort)
	i32 := b.Primitive(types.PrimLong)

	onlyBool := mustID(t)(b.Struct("OnlyBool", field("flag", boolean)))
	boolThenLong := mustID(t)(b.Struct("BoolThenLong", field("flag", boolean), field("value", i64)))
	shortThenBool := mustID(t)(b.Struct("ShortThenBool", field("s", i16), field("flag", boolean)))
	longThenBool := mustID(t)(b.Struct("LongThenBool", field("l", i32), field("flag", boolean)))
	empty := mustID(t)(b.Struct("Empty"))
	nested := mustID(t)(b.Struct("Nested", field("inner", shortThenBool), field("flag", boolean)))

	r := New(b.Build())
	tests := []struct {
		id   types.TypeID
		want align.Class
	}{
		{onlyBool, align.OneOrBool},
		{boolThenLong, align.Eight},
		{shortThenBool, align.TwoOrBool},
		{longThenBool, align.Four},
		{empty, align.One},
		{nested, align.TwoOrBool},
	}
	for _, tt := range tests {
		t.Run(r.Graph.Label(tt.id), func(t *testing.T) {
			if got := mustResolve(t, r, tt.id); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveArrayAndSequenceFollowElement(t *testing.T) {
	b := types.NewBuilder()
	i16 := b.Primitive(types.PrimShort)
	small := mustID(t)(b.Array("Small", field("", i16), 1))
	big := mustID(t)(b.Array("Big", field("", i16), 64, 3))
	seq := mustID(t)(b.Sequence("Shorts", field("", i16), 0))
	bounded := mustID(t)(b.Sequence("Bounded", field("", b.Primitive(types.PrimDouble)), 8))
	alias := mustID(t)(b.Typedef("Alias", bounded))

	r := New(b.Build())
	for _, id := range []types.TypeID{small, big, seq} {
		if got := mustResolve(t, r, id); got != align.Two {
			t.Errorf("%s = %s, want two", r.Graph.Label(id), got)
		}
	}
	if got := mustResolve(t, r, bounded); got != align.Eight {
		t.Errorf("Bounded = %s, want eight", got)
	}
	if got := mustResolve(t, r, alias); got != align.Eight {
		t.Errorf("Alias = %s, want eight", got)
	}
}

func TestResolveUnionDiscriminantFirst(t *testing.T) {
	b := types.NewBuilder()
	boolean := b.Primitive(types.PrimBoolean)
	i8 := b.Primitive(types.PrimOctet)
	f64 := b.Primitive(types.PrimDouble)

	octetDisc := mustID(t)(b.Union("OctetDisc", types.PrimOctet, field("flag", boolean)))
	longDisc := mustID(t)(b.Union("LongDisc", types.PrimLong, field("flag", boolean), field("o", i8)))
	wide := mustID(t)(b.Union("Wide", types.PrimShort, field("d", f64)))
	boolDisc := mustID(t)(b.Union("BoolDisc", types.PrimBoolean, field("o", i8)))

	r := New(b.Build())
	tests := []struct {
		id   types.TypeID
		want align.Class
	}{
		{octetDisc, align.OneOrBool},
		{longDisc, align.Four},
		{wide, align.Eight},
		// bool discriminant on the left keeps bool on the order tie with one
		{boolDisc, align.Bool},
	}
	for _, tt := range tests {
		if got := mustResolve(t, r, tt.id); got != tt.want {
			t.Errorf("%s = %s, want %s", r.Graph.Label(tt.id), got, tt.want)
		}
	}
}

func TestResolveSelfEmbeddingFails(t *testing.T) {
	b := types.NewBuilder()
	self, err := b.Declare("Self", types.KindStruct)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.SetMembers(self, field("x", b.Primitive(types.PrimLong)), field("me", self)); err != nil {
		t.Fatal(err)
	}
	r := New(b.Build())

	_, err = r.Resolve(self)
	lerr := wantLayoutError(t, err, LayoutErrCyclicEmbedding)
	if lerr.Type != self {
		t.Fatalf("cycle names type#%d, want type#%d", lerr.Type, self)
	}
	if len(lerr.Cycle) != 2 || lerr.Cycle[0] != self || lerr.Cycle[1] != self {
		t.Fatalf("unexpected cycle %v", lerr.Cycle)
	}
	if got := lerr.Error(); got != "cyclic embedding without indirection (cycle: Self -> Self)" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestResolveMutualEmbeddingReportsChain(t *testing.T) {
	b := types.NewBuilder()
	a, _ := b.Declare("A", types.KindStruct)
	c, _ := b.Declare("B", types.KindStruct)
	_ = b.SetMembers(a, field("b", c))
	_ = b.SetMembers(c, field("a", a))
	r := New(b.Build())

	_, err := r.Resolve(a)
	lerr := wantLayoutError(t, err, LayoutErrCyclicEmbedding)
	want := []types.TypeID{a, c, a}
	if len(lerr.Cycle) != len(want) {
		t.Fatalf("cycle = %v, want %v", lerr.Cycle, want)
	}
	for i := range want {
		if lerr.Cycle[i] != want[i] {
			t.Fatalf("cycle = %v, want %v", lerr.Cycle, want)
		}
	}

	// B is on the same cycle and was resolved as part of A.
	before := r.Computations()
	_, err = r.Resolve(c)
	wantLayoutError(t, err, LayoutErrCyclicEmbedding)
	if r.Computations() != before {
		t.Fatalf("failed types must not be recomputed")
	}
}

func TestResolveSequenceOfSelfIsIndirect(t *testing.T) {
	b := types.NewBuilder()
	node, _ := b.Declare("Node", types.KindStruct)
	children := mustID(t)(b.Sequence("", types.Member{Type: node, Indirect: true}, 0))
	_ = b.SetMembers(node,
		field("flag", b.Primitive(types.PrimBoolean)),
		field("children", children),
	)

	tree, _ := b.Declare("Tree", types.KindStruct)
	_ = b.SetMembers(tree,
		field("depth", b.Primitive(types.PrimShort)),
		types.Member{Name: "parent", Type: tree, Indirect: true},
	)
	r := New(b.Build())

	if got := mustResolve(t, r, children); got != align.Ptr {
		t.Fatalf("sequence<Node> = %s, want ptr", got)
	}
	if got := mustResolve(t, r, node); got != align.Ptr {
		t.Fatalf("Node = %s, want ptr", got)
	}
	if got := mustResolve(t, r, tree); got != align.Ptr {
		t.Fatalf("Tree = %s, want ptr", got)
	}
}

func TestResolveUnknownReference(t *testing.T) {
	b := types.NewBuilder()
	s := mustID(t)(b.Struct("Dangling", field("x", b.Primitive(types.PrimLong)), field("ghost", 99)))
	r := New(b.Build())

	_, err := r.Resolve(s)
	lerr := wantLayoutError(t, err, LayoutErrUnknownTypeReference)
	if lerr.Type != s || lerr.Ref != 99 {
		t.Fatalf("unexpected error fields %+v", lerr)
	}
	if got := lerr.Error(); got != "Dangling references unknown type#99" {
		t.Fatalf("unexpected message %q", got)
	}

	_, err = r.Resolve(1234)
	wantLayoutError(t, err, LayoutErrUnknownTypeReference)
}

func TestResolveIndirectUnknownReferenceFails(t *testing.T) {
	b := types.NewBuilder()
	s := mustID(t)(b.Struct("S", types.Member{Name: "p", Type: 77, Indirect: true}))
	r := New(b.Build())
	_, err := r.Resolve(s)
	wantLayoutError(t, err, LayoutErrUnknownTypeReference)
}

func TestResolveInvalidNode(t *testing.T) {
	b := types.NewBuilder()
	td, _ := b.Declare("Hollow", types.KindTypedef)
	r := New(b.Build())
	_, err := r.Resolve(td)
	wantLayoutError(t, err, LayoutErrInvalidNode)
}

func TestResolveComputesOnce(t *testing.T) {
	b := types.NewBuilder()
	i32 := b.Primitive(types.PrimLong)
	inner := mustID(t)(b.Struct("Inner", field("a", i32), field("b", b.Primitive(types.PrimBoolean))))
	arr := mustID(t)(b.Array("Inners", field("", inner), 16))
	outer := mustID(t)(b.Struct("Outer", field("x", arr), field("y", inner)))
	r := New(b.Build())

	const callers = 16
	var (
		wg      sync.WaitGroup
		results [callers]align.Class
		errs    [callers]error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = r.Resolve(outer)
		}()
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d got %s, caller 0 got %s", i, results[i], results[0])
		}
	}
	if results[0] != align.Four {
		t.Fatalf("Outer = %s, want four", results[0])
	}
	// Outer, Inners, Inner, long, boolean.
	if got := r.Computations(); got != 5 {
		t.Fatalf("computations = %d, want 5", got)
	}
}

func TestResolveAllKeepsOrder(t *testing.T) {
	b := types.NewBuilder()
	i16 := b.Primitive(types.PrimShort)
	flag := mustID(t)(b.Struct("Flag", field("f", b.Primitive(types.PrimBoolean))))
	pair := mustID(t)(b.Struct("Pair", field("a", i16), field("b", i16)))
	str := mustID(t)(b.Struct("Named", field("name", b.Primitive(types.PrimString))))
	r := New(b.Build())

	res, err := r.ResolveAll(context.Background(), []types.TypeID{str, flag, pair}, 2)
	if err != nil {
		t.Fatalf("resolve all: %v", err)
	}
	want := []struct {
		name      string
		class     align.Class
		uncertain bool
	}{
		{"Named", align.Ptr, true},
		{"Flag", align.OneOrBool, true},
		{"Pair", align.Two, false},
	}
	if len(res) != len(want) {
		t.Fatalf("got %d results", len(res))
	}
	for i, w := range want {
		if res[i].Name != w.name || res[i].Class != w.class || res[i].Export.Uncertain != w.uncertain {
			t.Errorf("result %d = %+v, want %+v", i, res[i], w)
		}
	}
	if res[2].Export.Literal != 2 || !res[2].Export.HasLiteral {
		t.Errorf("Pair export = %+v", res[2].Export)
	}
}

func TestResolveAllFailsWholeBatch(t *testing.T) {
	b := types.NewBuilder()
	ok := mustID(t)(b.Struct("Fine", field("x", b.Primitive(types.PrimLong))))
	bad, _ := b.Declare("Bad", types.KindStruct)
	_ = b.SetMembers(bad, field("self", bad))
	r := New(b.Build())

	res, err := r.ResolveAll(context.Background(), []types.TypeID{ok, bad}, 1)
	wantLayoutError(t, err, LayoutErrCyclicEmbedding)
	if res != nil {
		t.Fatalf("failed batch must not return partial results, got %+v", res)
	}
}

func TestResolveAllSplitCycleDoesNotDeadlock(t *testing.T) {
	for i := 0; i < 200; i++ {
		b := types.NewBuilder()
		ids := make([]types.TypeID, 4)
		for j := range ids {
			ids[j], _ = b.Declare(string(rune('A'+j)), types.KindStruct)
		}
		for j := range ids {
			_ = b.SetMembers(ids[j], field("next", ids[(j+1)%len(ids)]))
		}
		r := New(b.Build())

		_, err := r.ResolveAll(context.Background(), ids, len(ids))
		lerr := wantLayoutError(t, err, LayoutErrCyclicEmbedding)
		if n := len(lerr.Cycle); n < 2 || lerr.Cycle[0] != lerr.Cycle[n-1] {
			t.Fatalf("cycle must start and end on the same type: %v", lerr.Cycle)
		}
	}
}

func TestExportOf(t *testing.T) {
	b := types.NewBuilder()
	s := mustID(t)(b.Struct("S", field("flag", b.Primitive(types.PrimBoolean))))
	r := New(b.Build())
	e, err := r.ExportOf(s)
	if err != nil {
		t.Fatal(err)
	}
	if !e.Uncertain || e.HasLiteral || e.Expr != "(sizeof(bool)>1u)?sizeof(bool):1u" {
		t.Fatalf("unexpected export %+v", e)
	}
}
