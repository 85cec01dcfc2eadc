package layout

import (
	"github.com/k0ekk0ek/cdds/internal/align"
	"github.com/k0ekk0ek/cdds/internal/trace"
	"github.com/k0ekk0ek/cdds/internal/types"
)

func (r *Resolver) compute(w *walk, id types.TypeID) (align.Class, *LayoutError) {
	n, ok := r.Graph.Lookup(id)
	if !ok {
		return align.Invalid, &LayoutError{Kind: LayoutErrUnknownTypeReference, Ref: id}
	}

	switch n.Kind {
	case types.KindPrimitive:
		cls := n.Prim.Align()
		if !cls.Valid() {
			return align.Invalid, r.invalid(id, "unknown primitive "+n.Prim.String())
		}
		return cls, nil

	case types.KindStruct:
		return r.fold(w, n, align.One)

	case types.KindArray, types.KindSequence, types.KindTypedef:
		// Length, bound and dimensions do not affect alignment.
		elem, ok := n.Elem()
		if !ok {
			return align.Invalid, r.invalid(id, n.Kind.String()+" without element type")
		}
		return r.memberClass(w, n, elem)

	case types.KindUnion:
		disc := n.Prim.Align()
		if !disc.Valid() {
			return align.Invalid, r.invalid(id, "union without discriminant")
		}
		return r.fold(w, n, disc)

	default:
		return align.Invalid, r.invalid(id, "unsupported kind "+n.Kind.String())
	}
}

// fold merges the members of n into acc in declaration order.
func (r *Resolver) fold(w *walk, n types.Node, acc align.Class) (align.Class, *LayoutError) {
	for _, m := range n.Members {
		cls, err := r.memberClass(w, n, m)
		if err != nil {
			return align.Invalid, err
		}
		acc = acc.Merge(cls)
	}
	return acc, nil
}

// memberClass resolves a single reference from parent. Indirect references
// contribute a pointer without visiting the target.
func (r *Resolver) memberClass(w *walk, parent types.Node, m types.Member) (align.Class, *LayoutError) {
	if _, ok := r.Graph.Lookup(m.Type); !ok {
		err := &LayoutError{Kind: LayoutErrUnknownTypeReference, Type: parent.ID, Ref: m.Type}
		return align.Invalid, err.withLabels(r.Graph)
	}
	var (
		cls align.Class
		err *LayoutError
	)
	if m.Indirect {
		cls = align.Ptr
	} else {
		cls, err = r.classOf(w, m.Type)
	}
	if err == nil && r.tracer.Enabled() {
		trace.Point(r.tracer, trace.ScopeMember, "member:"+r.Graph.Label(parent.ID)+"."+m.Name, cls.String(), w.span, nil)
	}
	return cls, err
}

func (r *Resolver) invalid(id types.TypeID, detail string) *LayoutError {
	err := &LayoutError{Kind: LayoutErrInvalidNode, Type: id, Detail: detail}
	return err.withLabels(r.Graph)
}
