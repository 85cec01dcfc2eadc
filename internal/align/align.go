package align

import (
	"fmt"
	"strings"
)

// Class is the alignment category of a type under CDR encoding rules.
//
// Classes whose byte value depends on the target compiler (the width of bool
// or of a pointer) are uncertain: their Value is 0 and their Render output is
// a sizeof expression instead of a literal.
type Class uint8

const (
	Invalid Class = iota
	One
	Bool
	OneOrBool
	Two
	TwoOrBool
	Four
	Ptr
	Eight
)

type classInfo struct {
	name   string
	value  uint32
	order  uint32
	render string
}

var classTable = [...]classInfo{
	Invalid:   {name: "invalid"},
	One:       {name: "one", value: 1, order: 0, render: "1u"},
	Bool:      {name: "bool", value: 0, order: 0, render: "sizeof(bool)"},
	OneOrBool: {name: "one_or_bool", value: 0, order: 1, render: "(sizeof(bool)>1u)?sizeof(bool):1u"},
	Two:       {name: "two", value: 2, order: 2, render: "2u"},
	TwoOrBool: {name: "two_or_bool", value: 0, order: 3, render: "(sizeof(bool)>2u)?sizeof(bool):2u"},
	Four:      {name: "four", value: 4, order: 4, render: "4u"},
	Ptr:       {name: "ptr", value: 0, order: 6, render: "sizeof (char *)"},
	Eight:     {name: "eight", value: 8, order: 8, render: "8u"},
}

// All returns every valid class in ascending declaration order.
func All() []Class {
	return []Class{One, Bool, OneOrBool, Two, TwoOrBool, Four, Ptr, Eight}
}

// Valid reports whether c is one of the fixed variants.
func (c Class) Valid() bool {
	return c > Invalid && int(c) < len(classTable)
}

func (c Class) info() classInfo {
	if !c.Valid() {
		return classTable[Invalid]
	}
	return classTable[c]
}

// Value returns the byte alignment, or 0 when it is only known to the
// target compiler.
func (c Class) Value() uint32 { return c.info().value }

// Order returns the rank used to break merges.
func (c Class) Order() uint32 { return c.info().order }

// Render returns the expression a code emitter should print for c.
func (c Class) Render() string { return c.info().render }

// IsUncertain reports whether the alignment cannot be written as a literal.
func (c Class) IsUncertain() bool { return c.Value() == 0 }

// String returns the variant name.
func (c Class) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Class(%d)", uint8(c))
	}
	return classTable[c].name
}

// Merge combines c with the class of another part of the same composite.
//
// The operation is not commutative: a Bool on the right widens One and Two to
// their "or bool" forms and leaves everything else untouched, while a Bool on
// the left takes part in the plain order comparison.
func (c Class) Merge(other Class) Class {
	if other == Bool {
		switch c {
		case One:
			return OneOrBool
		case Two:
			return TwoOrBool
		default:
			return c
		}
	}
	if other.Order() > c.Order() {
		return other
	}
	return c
}

// Fold merges xs into acc from left to right.
func Fold(acc Class, xs ...Class) Class {
	for _, x := range xs {
		acc = acc.Merge(x)
	}
	return acc
}

// Parse maps a variant name back to its Class. Names are case-insensitive.
func Parse(s string) (Class, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, c := range All() {
		if classTable[c].name == name {
			return c, nil
		}
	}
	return Invalid, fmt.Errorf("invalid alignment class: %q (expected: one|bool|one_or_bool|two|two_or_bool|four|ptr|eight)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Class) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("align: cannot marshal %s", c)
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Class) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
