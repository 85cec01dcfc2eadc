// Package graphfile loads IDL type graphs from TOML manifests.
package graphfile

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"
	"golang.org/x/text/unicode/norm"

	"github.com/k0ekk0ek/cdds/internal/types"
)

// File is a loaded manifest.
type File struct {
	Path  string
	Graph *types.Graph
	Roots []types.TypeID // types to resolve, in manifest order
	Jobs  int            // 0 means the caller decides
}

type manifest struct {
	Options optionsConfig `toml:"options"`
	Types   []typeConfig  `toml:"type"`
}

type optionsConfig struct {
	Jobs  int      `toml:"jobs"`
	Roots []string `toml:"roots"`
}

type typeConfig struct {
	Name         string         `toml:"name"`
	Kind         string         `toml:"kind"`
	Members      []memberConfig `toml:"members"`
	Element      string         `toml:"element"`
	Indirect     bool           `toml:"indirect"`
	Dims         []int64        `toml:"dims"`
	Bound        int64          `toml:"bound"`
	Discriminant string         `toml:"discriminant"`
	Cases        []memberConfig `toml:"cases"`
	Target       string         `toml:"target"`
}

type memberConfig struct {
	Name     string `toml:"name"`
	Type     string `toml:"type"`
	Indirect bool   `toml:"indirect"`
}

// Load reads and decodes the manifest at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Parse decodes manifest data. name is only used in error messages.
func Parse(name string, data []byte) (*File, error) {
	var m manifest
	meta, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", name, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", name, strings.Join(keys, ", "))
	}
	if !meta.IsDefined("type") || len(m.Types) == 0 {
		return nil, fmt.Errorf("%s: missing [[type]]", name)
	}
	if m.Options.Jobs < 0 {
		return nil, fmt.Errorf("%s: [options].jobs must not be negative", name)
	}

	ld := &loader{
		b:     types.NewBuilder(),
		named: make(map[string]types.TypeID, len(m.Types)),
		kinds: make(map[types.TypeID]types.Kind, len(m.Types)),
	}
	if err := ld.declare(m.Types); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	for i := range m.Types {
		if err := ld.define(&m.Types[i]); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	f := &File{Path: name, Graph: ld.b.Build(), Jobs: m.Options.Jobs}
	if len(m.Options.Roots) == 0 {
		f.Roots = f.Graph.Composites()
		return f, nil
	}
	for _, root := range m.Options.Roots {
		id, ok := ld.named[normalize(root)]
		if !ok {
			return nil, fmt.Errorf("%s: [options].roots: unknown type %q", name, root)
		}
		f.Roots = append(f.Roots, id)
	}
	return f, nil
}

// Lookup finds a declared type by name, applying the same normalization as
// the manifest loader.
func (f *File) Lookup(name string) (types.TypeID, bool) {
	return f.Graph.ByName(normalize(name))
}

// normalize makes identifiers comparable regardless of Unicode composition.
func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

type loader struct {
	b     *types.Builder
	named map[string]types.TypeID
	kinds map[types.TypeID]types.Kind
}

func (ld *loader) declare(decls []typeConfig) error {
	for i := range decls {
		tc := &decls[i]
		tc.Name = normalize(tc.Name)
		if tc.Name == "" {
			return fmt.Errorf("type #%d: missing name", i+1)
		}
		if _, isPrim := types.LookupPrimitive(tc.Name); isPrim {
			return fmt.Errorf("type %q: name shadows a primitive type", tc.Name)
		}
		kind, err := types.ParseKind(strings.ToLower(strings.TrimSpace(tc.Kind)))
		if err != nil {
			return fmt.Errorf("type %q: %w", tc.Name, err)
		}
		id, err := ld.b.Declare(tc.Name, kind)
		if err != nil {
			return err
		}
		ld.named[tc.Name] = id
		ld.kinds[id] = kind
	}
	return nil
}

// misplacedKeys lists the keys set on tc that its kind does not read.
func misplacedKeys(tc *typeConfig, kind types.Kind) []string {
	var keys []string
	check := func(set bool, key string, kinds ...types.Kind) {
		if set && !slices.Contains(kinds, kind) {
			keys = append(keys, key)
		}
	}
	check(len(tc.Members) > 0, "members", types.KindStruct)
	check(tc.Element != "", "element", types.KindArray, types.KindSequence)
	check(tc.Indirect, "indirect", types.KindArray, types.KindSequence)
	check(len(tc.Dims) > 0, "dims", types.KindArray)
	check(tc.Bound != 0, "bound", types.KindSequence)
	check(tc.Discriminant != "", "discriminant", types.KindUnion)
	check(len(tc.Cases) > 0, "cases", types.KindUnion)
	check(tc.Target != "", "target", types.KindTypedef)
	return keys
}

func (ld *loader) define(tc *typeConfig) error {
	id := ld.named[tc.Name]
	kind := ld.kinds[id]
	if keys := misplacedKeys(tc, kind); len(keys) > 0 {
		return fmt.Errorf("%s %q: %s not allowed", kind, tc.Name, strings.Join(keys, ", "))
	}
	switch kind {
	case types.KindStruct:
		members, err := ld.members(tc.Name, tc.Members)
		if err != nil {
			return err
		}
		return ld.b.SetMembers(id, members...)

	case types.KindArray:
		if len(tc.Dims) == 0 {
			return fmt.Errorf("array %q: missing dims", tc.Name)
		}
		dims := make([]uint32, 0, len(tc.Dims))
		for _, d := range tc.Dims {
			v, err := safecast.Conv[uint32](d)
			if err != nil || v == 0 {
				return fmt.Errorf("array %q: invalid dimension %d", tc.Name, d)
			}
			dims = append(dims, v)
		}
		elem, err := ld.ref(tc.Name, "element", tc.Element, tc.Indirect)
		if err != nil {
			return err
		}
		if err := ld.b.SetElem(id, elem); err != nil {
			return err
		}
		return ld.b.SetDims(id, dims...)

	case types.KindSequence:
		bound, err := safecast.Conv[uint32](tc.Bound)
		if err != nil {
			return fmt.Errorf("sequence %q: invalid bound %d: %w", tc.Name, tc.Bound, err)
		}
		elem, err := ld.ref(tc.Name, "element", tc.Element, tc.Indirect)
		if err != nil {
			return err
		}
		if err := ld.b.SetElem(id, elem); err != nil {
			return err
		}
		return ld.b.SetBound(id, bound)

	case types.KindUnion:
		disc, ok := types.LookupPrimitive(normalize(tc.Discriminant))
		if !ok {
			return fmt.Errorf("union %q: invalid discriminant %q", tc.Name, tc.Discriminant)
		}
		cases, err := ld.members(tc.Name, tc.Cases)
		if err != nil {
			return err
		}
		if err := ld.b.SetDiscriminant(id, disc); err != nil {
			return err
		}
		return ld.b.SetMembers(id, cases...)

	case types.KindTypedef:
		target, err := ld.ref(tc.Name, "target", tc.Target, false)
		if err != nil {
			return err
		}
		return ld.b.SetElem(id, target)

	default:
		return fmt.Errorf("type %q: unsupported kind %q", tc.Name, tc.Kind)
	}
}

func (ld *loader) members(owner string, in []memberConfig) ([]types.Member, error) {
	out := make([]types.Member, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, mc := range in {
		name := normalize(mc.Name)
		if name == "" {
			return nil, fmt.Errorf("type %q: member without name", owner)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("type %q: duplicate member %q", owner, name)
		}
		seen[name] = struct{}{}
		m, err := ld.ref(owner, name, mc.Type, mc.Indirect)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ErrUnknownType is wrapped by errors about references to undeclared names.
var ErrUnknownType = errors.New("unknown type")

func (ld *loader) ref(owner, member, typeName string, indirect bool) (types.Member, error) {
	name := normalize(typeName)
	if name == "" {
		return types.Member{}, fmt.Errorf("type %q: %s has no type", owner, member)
	}
	if p, ok := types.LookupPrimitive(name); ok {
		return types.Member{Name: member, Type: ld.b.Primitive(p), Indirect: indirect}, nil
	}
	id, ok := ld.named[name]
	if !ok {
		return types.Member{}, fmt.Errorf("type %q: %s references %w %q", owner, member, ErrUnknownType, name)
	}
	return types.Member{Name: member, Type: id, Indirect: indirect}, nil
}
