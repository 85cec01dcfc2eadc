package layout

import (
	"fmt"
	"strings"

	"github.com/k0ekk0ek/cdds/internal/types"
)

// LayoutErrorKind enumerates structural problems found while resolving.
type LayoutErrorKind uint8

const (
	// LayoutErrCyclicEmbedding: a type embeds itself without indirection.
	LayoutErrCyclicEmbedding LayoutErrorKind = iota + 1
	// LayoutErrUnknownTypeReference: a member names an id absent from the graph.
	LayoutErrUnknownTypeReference
	// LayoutErrInvalidNode: a node is malformed, e.g. an array without element.
	LayoutErrInvalidNode
)

func (k LayoutErrorKind) String() string {
	switch k {
	case LayoutErrCyclicEmbedding:
		return "cyclic embedding"
	case LayoutErrUnknownTypeReference:
		return "unknown type reference"
	case LayoutErrInvalidNode:
		return "invalid type"
	default:
		return fmt.Sprintf("LayoutErrorKind(%d)", k)
	}
}

// LayoutError is the only error kind the resolver returns.
type LayoutError struct {
	Kind   LayoutErrorKind
	Type   types.TypeID   // offending type; the referencing type for unknown references
	Ref    types.TypeID   // for LayoutErrUnknownTypeReference
	Cycle  []types.TypeID // for LayoutErrCyclicEmbedding, first id repeated at the end
	Detail string         // for LayoutErrInvalidNode

	labels map[types.TypeID]string
}

func (e *LayoutError) label(id types.TypeID) string {
	if l, ok := e.labels[id]; ok {
		return l
	}
	return fmt.Sprintf("type#%d", id)
}

func (e *LayoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case LayoutErrCyclicEmbedding:
		if len(e.Cycle) == 0 {
			return fmt.Sprintf("%s embeds itself without indirection", e.label(e.Type))
		}
		parts := make([]string, 0, len(e.Cycle))
		for _, id := range e.Cycle {
			parts = append(parts, e.label(id))
		}
		return fmt.Sprintf("cyclic embedding without indirection (cycle: %s)", strings.Join(parts, " -> "))
	case LayoutErrUnknownTypeReference:
		if e.Type == types.NoTypeID {
			return fmt.Sprintf("unknown type reference: type#%d", e.Ref)
		}
		return fmt.Sprintf("%s references unknown type#%d", e.label(e.Type), e.Ref)
	case LayoutErrInvalidNode:
		return fmt.Sprintf("invalid type %s: %s", e.label(e.Type), e.Detail)
	default:
		return fmt.Sprintf("layout error kind=%d %s", e.Kind, e.label(e.Type))
	}
}

// withLabels captures printable names for every id the error mentions.
func (e *LayoutError) withLabels(g *types.Graph) *LayoutError {
	e.labels = make(map[types.TypeID]string, len(e.Cycle)+1)
	add := func(id types.TypeID) {
		if _, ok := g.Lookup(id); ok {
			e.labels[id] = g.Label(id)
		}
	}
	add(e.Type)
	for _, id := range e.Cycle {
		add(id)
	}
	return e
}
