package align

// Export is what a code emitter receives for a resolved type.
type Export struct {
	Literal    uint32 // valid only when HasLiteral
	HasLiteral bool
	Expr       string // target-language expression, always set
	Uncertain  bool
}

// ExportOf builds the emitter view of c.
//
// For uncertain classes the emitter must print Expr instead of a compile-time
// constant.
func ExportOf(c Class) Export {
	uncertain := c.IsUncertain()
	return Export{
		Literal:    c.Value(),
		HasLiteral: !uncertain,
		Expr:       c.Render(),
		Uncertain:  uncertain,
	}
}

// NeedsGuard reports whether code relying on this alignment should be wrapped
// in a static assertion or platform guard.
func (e Export) NeedsGuard() bool { return e.Uncertain }
