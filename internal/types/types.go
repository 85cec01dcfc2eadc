package types

import (
	"fmt"

	"github.com/k0ekk0ek/cdds/internal/align"
)

// TypeID uniquely identifies a node inside a Graph.
type TypeID uint32

// NoTypeID marks the absence of a type.
const NoTypeID TypeID = 0

// Kind enumerates the node kinds of an IDL type graph.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindPrimitive
	KindStruct
	KindArray
	KindSequence
	KindUnion
	KindTypedef
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindPrimitive:
		return "primitive"
	case KindStruct:
		return "struct"
	case KindArray:
		return "array"
	case KindSequence:
		return "sequence"
	case KindUnion:
		return "union"
	case KindTypedef:
		return "typedef"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// ParseKind converts a manifest keyword into a composite Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "struct":
		return KindStruct, nil
	case "array":
		return KindArray, nil
	case "sequence":
		return KindSequence, nil
	case "union":
		return KindUnion, nil
	case "typedef":
		return KindTypedef, nil
	default:
		return KindInvalid, fmt.Errorf("invalid type kind: %q (expected: struct|array|sequence|union|typedef)", s)
	}
}

// Composite reports whether nodes of this kind carry members.
func (k Kind) Composite() bool {
	switch k {
	case KindStruct, KindArray, KindSequence, KindUnion, KindTypedef:
		return true
	default:
		return false
	}
}

// Primitive enumerates the IDL base types.
type Primitive uint8

const (
	PrimInvalid Primitive = iota
	PrimOctet
	PrimChar
	PrimInt8
	PrimUInt8
	PrimBoolean
	PrimShort
	PrimUShort
	PrimLong
	PrimULong
	PrimFloat
	PrimEnum
	PrimLongLong
	PrimULongLong
	PrimDouble
	PrimString
	PrimPointer

	primCount
)

var primitiveNames = [...]string{
	PrimInvalid:   "invalid",
	PrimOctet:     "octet",
	PrimChar:      "char",
	PrimInt8:      "int8",
	PrimUInt8:     "uint8",
	PrimBoolean:   "boolean",
	PrimShort:     "short",
	PrimUShort:    "unsigned short",
	PrimLong:      "long",
	PrimULong:     "unsigned long",
	PrimFloat:     "float",
	PrimEnum:      "enum",
	PrimLongLong:  "long long",
	PrimULongLong: "unsigned long long",
	PrimDouble:    "double",
	PrimString:    "string",
	PrimPointer:   "pointer",
}

// primitiveAlign is the fixed CDR alignment table.
var primitiveAlign = [...]align.Class{
	PrimInvalid:   align.Invalid,
	PrimOctet:     align.One,
	PrimChar:      align.One,
	PrimInt8:      align.One,
	PrimUInt8:     align.One,
	PrimBoolean:   align.Bool,
	PrimShort:     align.Two,
	PrimUShort:    align.Two,
	PrimLong:      align.Four,
	PrimULong:     align.Four,
	PrimFloat:     align.Four,
	PrimEnum:      align.Four,
	PrimLongLong:  align.Eight,
	PrimULongLong: align.Eight,
	PrimDouble:    align.Eight,
	PrimString:    align.Ptr,
	PrimPointer:   align.Ptr,
}

func (p Primitive) String() string {
	if p >= primCount {
		return fmt.Sprintf("Primitive(%d)", p)
	}
	return primitiveNames[p]
}

// Align returns the alignment class of p, or align.Invalid for unknown values.
func (p Primitive) Align() align.Class {
	if p >= primCount {
		return align.Invalid
	}
	return primitiveAlign[p]
}

// Discriminant reports whether p may discriminate a union.
func (p Primitive) Discriminant() bool {
	switch p {
	case PrimOctet, PrimChar, PrimInt8, PrimUInt8, PrimBoolean, PrimShort, PrimUShort,
		PrimLong, PrimULong, PrimEnum, PrimLongLong, PrimULongLong:
		return true
	default:
		return false
	}
}

// Primitives lists every valid primitive.
func Primitives() []Primitive {
	out := make([]Primitive, 0, primCount-1)
	for p := PrimOctet; p < primCount; p++ {
		out = append(out, p)
	}
	return out
}

// primitiveAliases maps IDL spellings onto primitives.
var primitiveAliases = map[string]Primitive{
	"int16":    PrimShort,
	"uint16":   PrimUShort,
	"int32":    PrimLong,
	"uint32":   PrimULong,
	"int64":    PrimLongLong,
	"uint64":   PrimULongLong,
	"ushort":   PrimUShort,
	"ulong":    PrimULong,
	"bool":     PrimBoolean,
	"byte":     PrimOctet,
	"wchar":    PrimShort,
	"ptr":      PrimPointer,
	"longlong": PrimLongLong,
}

// LookupPrimitive maps an IDL base type name to a Primitive.
func LookupPrimitive(name string) (Primitive, bool) {
	for p := PrimOctet; p < primCount; p++ {
		if primitiveNames[p] == name {
			return p, true
		}
	}
	p, ok := primitiveAliases[name]
	return p, ok
}

// Member references another node from a composite.
type Member struct {
	Name string
	Type TypeID
	// Indirect marks a reference that does not embed the target's storage.
	Indirect bool
}

// Node is a read-only view of a single type definition.
type Node struct {
	ID      TypeID
	Kind    Kind
	Name    string
	Prim    Primitive // KindPrimitive, and the discriminant of KindUnion
	Members []Member  // struct fields, union cases, or the single element/target
	Dims    []uint32  // KindArray
	Bound   uint32    // KindSequence, 0 means unbounded
}

// Elem returns the single element reference of an array, sequence or typedef.
func (n Node) Elem() (Member, bool) {
	switch n.Kind {
	case KindArray, KindSequence, KindTypedef:
		if len(n.Members) == 1 {
			return n.Members[0], true
		}
	}
	return Member{}, false
}
