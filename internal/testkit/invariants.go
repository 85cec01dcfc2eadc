package testkit

import (
	"fmt"

	"fortio.org/safecast"

	"github.com/k0ekk0ek/cdds/internal/types"
)

// CheckGraphInvariants runs the structural checks every built graph must pass:
// 1) node ids are dense, start at 1 and match their slot
// 2) primitive nodes are shared, one per primitive
// 3) named composites are reachable through ByName
// 4) arrays, sequences and typedefs carry exactly one element reference
// 5) union discriminants are integral, boolean or enum primitives
//
// Member references are NOT required to resolve: dangling ids are a layout
// error, not a graph error.
func CheckGraphInvariants(g *types.Graph) error {
	if g == nil {
		return fmt.Errorf("nil graph")
	}
	seenPrim := make(map[types.Primitive]types.TypeID)
	for i, id := range g.IDs() {
		want, err := safecast.Conv[types.TypeID](i + 1)
		if err != nil {
			return fmt.Errorf("node index overflow: %w", err)
		}
		if id != want {
			return fmt.Errorf("node id %d in slot %d", id, want)
		}
		n, ok := g.Lookup(id)
		if !ok {
			return fmt.Errorf("lookup failed for id %d", id)
		}
		switch n.Kind {
		case types.KindPrimitive:
			if prev, dup := seenPrim[n.Prim]; dup {
				return fmt.Errorf("primitive %s allocated twice (%d and %d)", n.Prim, prev, id)
			}
			seenPrim[n.Prim] = id
			if shared, ok := g.Primitive(n.Prim); !ok || shared != id {
				return fmt.Errorf("primitive %s not registered as shared node", n.Prim)
			}
			continue
		case types.KindArray, types.KindSequence, types.KindTypedef:
			if _, ok := n.Elem(); !ok {
				return fmt.Errorf("%s %s has %d element references", n.Kind, g.Label(id), len(n.Members))
			}
		case types.KindUnion:
			if !n.Prim.Discriminant() {
				return fmt.Errorf("union %s has invalid discriminant %s", g.Label(id), n.Prim)
			}
		case types.KindStruct:
		default:
			return fmt.Errorf("node %d has invalid kind %s", id, n.Kind)
		}
		if n.Name != "" {
			if byName, ok := g.ByName(n.Name); !ok || byName != id {
				return fmt.Errorf("type %q not reachable by name", n.Name)
			}
		}
	}
	return nil
}
