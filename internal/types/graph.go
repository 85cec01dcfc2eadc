package types

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"fortio.org/safecast"
)

// Digest is a content hash of a Graph.
type Digest [32]byte

// Graph is an immutable arena of type nodes addressed by TypeID.
// Index 0 is reserved so that NoTypeID never names a node.
type Graph struct {
	nodes  []Node
	byName map[string]TypeID
	prims  [primCount]TypeID
	digest Digest
}

// Lookup returns the node for id.
func (g *Graph) Lookup(id TypeID) (Node, bool) {
	if g == nil || id == NoTypeID || int(id) >= len(g.nodes) {
		return Node{}, false
	}
	return g.nodes[id], true
}

// MustLookup panics when id is invalid.
func (g *Graph) MustLookup(id TypeID) Node {
	n, ok := g.Lookup(id)
	if !ok {
		panic("types: invalid TypeID")
	}
	return n
}

// Len returns the number of nodes, excluding the reserved slot.
func (g *Graph) Len() int {
	if g == nil || len(g.nodes) == 0 {
		return 0
	}
	return len(g.nodes) - 1
}

// IDs returns every node id in allocation order.
func (g *Graph) IDs() []TypeID {
	n := g.Len()
	out := make([]TypeID, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, g.nodes[i].ID)
	}
	return out
}

// Composites returns the ids of every non-primitive node in allocation order.
func (g *Graph) Composites() []TypeID {
	out := make([]TypeID, 0, g.Len())
	for _, id := range g.IDs() {
		if g.nodes[id].Kind.Composite() {
			out = append(out, id)
		}
	}
	return out
}

// ByName finds a named node.
func (g *Graph) ByName(name string) (TypeID, bool) {
	if g == nil {
		return NoTypeID, false
	}
	id, ok := g.byName[name]
	return id, ok
}

// Primitive returns the shared node for p, if the graph contains one.
func (g *Graph) Primitive(p Primitive) (TypeID, bool) {
	if g == nil || p == PrimInvalid || p >= primCount {
		return NoTypeID, false
	}
	id := g.prims[p]
	return id, id != NoTypeID
}

// Label renders id for diagnostics: the node name when present, type#N otherwise.
func (g *Graph) Label(id TypeID) string {
	if n, ok := g.Lookup(id); ok {
		if n.Name != "" {
			return n.Name
		}
		if n.Kind == KindPrimitive {
			return n.Prim.String()
		}
	}
	return fmt.Sprintf("type#%d", id)
}

// Digest returns the content hash computed at Build time.
func (g *Graph) Digest() Digest {
	if g == nil {
		return Digest{}
	}
	return g.digest
}

// Builder accumulates nodes and produces an immutable Graph.
// Members may reference ids that are declared later, which is how recursive
// types are expressed.
type Builder struct {
	nodes  []Node
	byName map[string]TypeID
	prims  [primCount]TypeID
	built  bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes:  []Node{{}}, // reserve 0 as invalid sentinel
		byName: make(map[string]TypeID, 32),
	}
}

func (b *Builder) alloc(n Node) TypeID {
	if b.built {
		panic("types: builder used after Build")
	}
	next, err := safecast.Conv[uint32](len(b.nodes))
	if err != nil {
		panic(fmt.Errorf("len(nodes) overflow: %w", err))
	}
	id := TypeID(next)
	n.ID = id
	b.nodes = append(b.nodes, n)
	if n.Name != "" {
		b.byName[n.Name] = id
	}
	return id
}

// Primitive returns the shared node for p, allocating it on first use.
func (b *Builder) Primitive(p Primitive) TypeID {
	if p == PrimInvalid || p >= primCount {
		return NoTypeID
	}
	if id := b.prims[p]; id != NoTypeID {
		return id
	}
	id := b.alloc(Node{Kind: KindPrimitive, Prim: p})
	b.prims[p] = id
	return id
}

// Declare reserves a named node of the given composite kind without members.
func (b *Builder) Declare(name string, kind Kind) (TypeID, error) {
	if !kind.Composite() {
		return NoTypeID, fmt.Errorf("types: cannot declare %s %q", kind, name)
	}
	if name != "" {
		if _, dup := b.byName[name]; dup {
			return NoTypeID, fmt.Errorf("types: duplicate type %q", name)
		}
	}
	return b.alloc(Node{Kind: kind, Name: name}), nil
}

// Struct declares a struct with the given fields.
func (b *Builder) Struct(name string, fields ...Member) (TypeID, error) {
	id, err := b.Declare(name, KindStruct)
	if err != nil {
		return NoTypeID, err
	}
	b.nodes[id].Members = slices.Clone(fields)
	return id, nil
}

// Array declares an array of elem with the given dimensions.
func (b *Builder) Array(name string, elem Member, dims ...uint32) (TypeID, error) {
	if len(dims) == 0 {
		return NoTypeID, fmt.Errorf("types: array %q without dimensions", name)
	}
	for _, d := range dims {
		if d == 0 {
			return NoTypeID, fmt.Errorf("types: array %q has zero dimension", name)
		}
	}
	id, err := b.Declare(name, KindArray)
	if err != nil {
		return NoTypeID, err
	}
	b.nodes[id].Members = []Member{elem}
	b.nodes[id].Dims = slices.Clone(dims)
	return id, nil
}

// Sequence declares a sequence of elem. bound 0 means unbounded.
func (b *Builder) Sequence(name string, elem Member, bound uint32) (TypeID, error) {
	id, err := b.Declare(name, KindSequence)
	if err != nil {
		return NoTypeID, err
	}
	b.nodes[id].Members = []Member{elem}
	b.nodes[id].Bound = bound
	return id, nil
}

// Union declares a discriminated union.
func (b *Builder) Union(name string, disc Primitive, cases ...Member) (TypeID, error) {
	if !disc.Discriminant() {
		return NoTypeID, fmt.Errorf("types: union %q has invalid discriminant %s", name, disc)
	}
	id, err := b.Declare(name, KindUnion)
	if err != nil {
		return NoTypeID, err
	}
	b.nodes[id].Prim = disc
	b.nodes[id].Members = slices.Clone(cases)
	return id, nil
}

// Typedef declares an alias for target.
func (b *Builder) Typedef(name string, target TypeID) (TypeID, error) {
	id, err := b.Declare(name, KindTypedef)
	if err != nil {
		return NoTypeID, err
	}
	b.nodes[id].Members = []Member{{Type: target}}
	return id, nil
}

// ErrBuilt is returned by setters called after Build.
var ErrBuilt = errors.New("types: graph already built")

// declared returns the mutable node for id while the builder is open.
func (b *Builder) declared(id TypeID) (*Node, error) {
	if b.built {
		return nil, ErrBuilt
	}
	if id == NoTypeID || int(id) >= len(b.nodes) {
		return nil, fmt.Errorf("types: invalid TypeID %d", id)
	}
	return &b.nodes[id], nil
}

// SetMembers replaces the members of a declared struct or union.
func (b *Builder) SetMembers(id TypeID, members ...Member) error {
	n, err := b.declared(id)
	if err != nil {
		return err
	}
	if n.Kind != KindStruct && n.Kind != KindUnion {
		return fmt.Errorf("types: cannot set members on %s", n.Kind)
	}
	n.Members = slices.Clone(members)
	return nil
}

// SetElem sets the element of a declared array, sequence or typedef.
func (b *Builder) SetElem(id TypeID, elem Member) error {
	n, err := b.declared(id)
	if err != nil {
		return err
	}
	switch n.Kind {
	case KindArray, KindSequence, KindTypedef:
		n.Members = []Member{elem}
		return nil
	default:
		return fmt.Errorf("types: cannot set element on %s", n.Kind)
	}
}

// SetDims sets the dimensions of a declared array.
func (b *Builder) SetDims(id TypeID, dims ...uint32) error {
	n, err := b.declared(id)
	if err != nil {
		return err
	}
	if n.Kind != KindArray {
		return fmt.Errorf("types: type#%d is not an array", id)
	}
	n.Dims = slices.Clone(dims)
	return nil
}

// SetBound sets the bound of a declared sequence.
func (b *Builder) SetBound(id TypeID, bound uint32) error {
	n, err := b.declared(id)
	if err != nil {
		return err
	}
	if n.Kind != KindSequence {
		return fmt.Errorf("types: type#%d is not a sequence", id)
	}
	n.Bound = bound
	return nil
}

// SetDiscriminant sets the discriminant of a declared union.
func (b *Builder) SetDiscriminant(id TypeID, disc Primitive) error {
	n, err := b.declared(id)
	if err != nil {
		return err
	}
	if n.Kind != KindUnion {
		return fmt.Errorf("types: type#%d is not a union", id)
	}
	if !disc.Discriminant() {
		return fmt.Errorf("types: invalid union discriminant %s", disc)
	}
	n.Prim = disc
	return nil
}

// Build freezes the builder. Member references are not checked here; dangling
// ids surface when the graph is resolved.
func (b *Builder) Build() *Graph {
	b.built = true
	g := &Graph{
		nodes:  b.nodes,
		byName: b.byName,
		prims:  b.prims,
	}
	g.digest = digestNodes(g.nodes)
	return g
}

func digestNodes(nodes []Node) Digest {
	h := sha256.New()
	var buf [4]byte
	put := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[:], v)
		h.Write(buf[:])
	}
	putString := func(s string) {
		n, err := safecast.Conv[uint32](len(s))
		if err != nil {
			panic(fmt.Errorf("name length overflow: %w", err))
		}
		put(n)
		h.Write([]byte(s))
	}
	for _, n := range nodes[1:] {
		put(uint32(n.ID))
		put(uint32(n.Kind))
		put(uint32(n.Prim))
		putString(n.Name)
		put(n.Bound)
		put(uint32(len(n.Dims)))
		for _, d := range n.Dims {
			put(d)
		}
		put(uint32(len(n.Members)))
		for _, m := range n.Members {
			putString(m.Name)
			put(uint32(m.Type))
			if m.Indirect {
				put(1)
			} else {
				put(0)
			}
		}
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}
