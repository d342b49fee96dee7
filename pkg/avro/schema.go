package avro

import (
	"fmt"
	"strings"

	"github.com/valyala/fastjson"
)

// Kind identifies the variant of a Type.
type Kind int

const (
	Null Kind = iota
	Boolean
	Int32
	Int64
	Float32
	Float64
	Bytes
	String
	Enum
	Record
	Array
	Map
)

var kindNames = [...]string{
	Null:    "null",
	Boolean: "boolean",
	Int32:   "int",
	Int64:   "long",
	Float32: "float",
	Float64: "double",
	Bytes:   "bytes",
	String:  "string",
	Enum:    "enum",
	Record:  "record",
	Array:   "array",
	Map:     "map",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// LogicalType annotates a primitive with a higher-level meaning.
type LogicalType string

const (
	LogicalNone            LogicalType = ""
	LogicalDate            LogicalType = "date"
	LogicalTimestampMillis LogicalType = "timestamp-millis"
	LogicalTimestampMicros LogicalType = "timestamp-micros"
)

// Type is a node of the schema tree.
type Type struct {
	Kind Kind

	// Nullable is set for a two-branch union with "null". NullBranch is the
	// index of the null branch; the value branch is the other one.
	Nullable   bool
	NullBranch int

	// Name is the full name of a record or enum.
	Name    string
	Logical LogicalType

	Fields  []Field  // Record
	Symbols []string // Enum
	Items   *Type    // Array
	Values  *Type    // Map
}

// ValueBranch returns the union index of the non-null branch.
func (t *Type) ValueBranch() int64 {
	return int64(1 - t.NullBranch)
}

func (t *Type) String() string {
	var s string
	switch t.Kind {
	case Record, Enum:
		s = t.Kind.String() + " " + t.Name
	case Array:
		s = "array<" + t.Items.String() + ">"
	case Map:
		s = "map<" + t.Values.String() + ">"
	default:
		s = t.Kind.String()
		if t.Logical != LogicalNone {
			s += "(" + string(t.Logical) + ")"
		}
	}
	if t.Nullable {
		s = "nullable " + s
	}
	return s
}

// Field is a named member of a record.
type Field struct {
	Name string
	Type *Type
}

// Nullable reports whether the field is a null union.
func (f Field) Nullable() bool { return f.Type.Nullable }

// Schema is the top-level record of a container file.
type Schema struct {
	Name   string
	Fields []Field

	root  *Type
	index map[string]int
}

// NewSchema builds a schema from a record type.
func NewSchema(root *Type) (*Schema, error) {
	if root == nil || root.Kind != Record || root.Nullable {
		return nil, fmt.Errorf("%w: top-level schema must be a record", ErrUnsupportedSchema)
	}
	s := &Schema{
		Name:   root.Name,
		Fields: root.Fields,
		root:   root,
		index:  make(map[string]int, len(root.Fields)),
	}
	for i, f := range root.Fields {
		s.index[f.Name] = i
	}
	return s, nil
}

// Root returns the record type the schema was built from.
func (s *Schema) Root() *Type { return s.root }

// FieldIndex returns the position of a top-level field.
func (s *Schema) FieldIndex(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// FieldNames returns the top-level field names in declared order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// ParseSchema parses an Avro JSON schema whose top level is a record.
// Syntax errors and structurally invalid schemas fail with ErrMalformedHeader;
// valid Avro that cannot be represented fails with ErrUnsupportedSchema.
func ParseSchema(text []byte) (*Schema, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(text)
	if err != nil {
		return nil, fmt.Errorf("%w: schema json: %v", ErrMalformedHeader, err)
	}
	sp := schemaParser{
		named:    make(map[string]*Type),
		defining: make(map[string]bool),
	}
	root, err := sp.parse(v, "")
	if err != nil {
		return nil, err
	}
	return NewSchema(root)
}

type schemaParser struct {
	named    map[string]*Type
	defining map[string]bool
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedHeader, fmt.Sprintf(format, args...))
}

func unsupported(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedSchema, fmt.Sprintf(format, args...))
}

func primitive(name string) (Kind, bool) {
	switch name {
	case "null":
		return Null, true
	case "boolean":
		return Boolean, true
	case "int":
		return Int32, true
	case "long":
		return Int64, true
	case "float":
		return Float32, true
	case "double":
		return Float64, true
	case "bytes":
		return Bytes, true
	case "string":
		return String, true
	}
	return 0, false
}

func (p *schemaParser) parse(v *fastjson.Value, namespace string) (*Type, error) {
	switch v.Type() {
	case fastjson.TypeString:
		return p.reference(string(v.GetStringBytes()), namespace)
	case fastjson.TypeArray:
		return p.union(v.GetArray(), namespace)
	case fastjson.TypeObject:
		return p.complex(v, namespace)
	default:
		return nil, malformed("unexpected %s in schema", v.Type())
	}
}

func (p *schemaParser) reference(name, namespace string) (*Type, error) {
	if kind, ok := primitive(name); ok {
		return &Type{Kind: kind}, nil
	}
	if name == "fixed" {
		return nil, unsupported("fixed types are not supported")
	}
	candidates := []string{name}
	if namespace != "" && !strings.Contains(name, ".") {
		candidates = []string{namespace + "." + name, name}
	}
	for _, full := range candidates {
		if p.defining[full] {
			return nil, unsupported("recursive reference to %s", full)
		}
		if t, ok := p.named[full]; ok {
			return t, nil
		}
	}
	return nil, malformed("unknown type %q", name)
}

func (p *schemaParser) union(branches []*fastjson.Value, namespace string) (*Type, error) {
	if len(branches) != 2 {
		return nil, unsupported("union with %d branches", len(branches))
	}
	nullBranch := -1
	for i, b := range branches {
		if b.Type() == fastjson.TypeString && string(b.GetStringBytes()) == "null" {
			if nullBranch >= 0 {
				return nil, unsupported("union with two null branches")
			}
			nullBranch = i
		}
	}
	if nullBranch < 0 {
		return nil, unsupported("union without a null branch")
	}
	valueNode := branches[1-nullBranch]
	if valueNode.Type() == fastjson.TypeArray {
		return nil, malformed("nested union")
	}
	inner, err := p.parse(valueNode, namespace)
	if err != nil {
		return nil, err
	}
	t := *inner
	t.Nullable = true
	t.NullBranch = nullBranch
	return &t, nil
}

func (p *schemaParser) complex(v *fastjson.Value, namespace string) (*Type, error) {
	typ := v.Get("type")
	if typ == nil {
		return nil, malformed("object without \"type\"")
	}
	if typ.Type() != fastjson.TypeString {
		return p.parse(typ, namespace)
	}

	name := string(typ.GetStringBytes())
	switch name {
	case "record", "error":
		return p.record(v, namespace)
	case "enum":
		return p.enum(v, namespace)
	case "array":
		items := v.Get("items")
		if items == nil {
			return nil, malformed("array without \"items\"")
		}
		it, err := p.parse(items, namespace)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: Array, Items: it}, nil
	case "map":
		values := v.Get("values")
		if values == nil {
			return nil, malformed("map without \"values\"")
		}
		vt, err := p.parse(values, namespace)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: Map, Values: vt}, nil
	case "fixed":
		return nil, unsupported("fixed types are not supported")
	}

	t, err := p.reference(name, namespace)
	if err != nil {
		return nil, err
	}
	if lt := v.GetStringBytes("logicalType"); lt != nil {
		t = withLogical(t, LogicalType(lt))
	}
	return t, nil
}

// withLogical applies a logical type when it matches the underlying primitive.
// Mismatched or unknown logical types are ignored, as Avro readers must.
func withLogical(t *Type, lt LogicalType) *Type {
	switch {
	case lt == LogicalDate && t.Kind == Int32,
		(lt == LogicalTimestampMillis || lt == LogicalTimestampMicros) && t.Kind == Int64:
		c := *t
		c.Logical = lt
		return &c
	}
	return t
}

func fullName(v *fastjson.Value, namespace string) (string, string, error) {
	nameBytes := v.GetStringBytes("name")
	if len(nameBytes) == 0 {
		return "", "", malformed("named type without \"name\"")
	}
	name := string(nameBytes)
	if ns := v.GetStringBytes("namespace"); ns != nil {
		namespace = string(ns)
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name, name[:i], nil
	}
	if namespace != "" {
		return namespace + "." + name, namespace, nil
	}
	return name, namespace, nil
}

func (p *schemaParser) define(full string, t *Type) error {
	if _, exists := p.named[full]; exists {
		return malformed("type %s defined twice", full)
	}
	p.named[full] = t
	return nil
}

func (p *schemaParser) record(v *fastjson.Value, namespace string) (*Type, error) {
	full, ns, err := fullName(v, namespace)
	if err != nil {
		return nil, err
	}
	fieldsNode := v.Get("fields")
	if fieldsNode == nil || fieldsNode.Type() != fastjson.TypeArray {
		return nil, malformed("record %s without \"fields\" array", full)
	}

	p.defining[full] = true
	defer delete(p.defining, full)

	nodes := fieldsNode.GetArray()
	fields := make([]Field, 0, len(nodes))
	seen := make(map[string]struct{}, len(nodes))
	for _, fn := range nodes {
		fname := string(fn.GetStringBytes("name"))
		if fname == "" {
			return nil, malformed("record %s has a field without a name", full)
		}
		if _, dup := seen[fname]; dup {
			return nil, malformed("record %s has duplicate field %q", full, fname)
		}
		seen[fname] = struct{}{}

		ftNode := fn.Get("type")
		if ftNode == nil {
			return nil, malformed("field %s.%s without \"type\"", full, fname)
		}
		ft, err := p.parse(ftNode, ns)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fname, err)
		}
		fields = append(fields, Field{Name: fname, Type: ft})
	}

	t := &Type{Kind: Record, Name: full, Fields: fields}
	if err := p.define(full, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (p *schemaParser) enum(v *fastjson.Value, namespace string) (*Type, error) {
	full, _, err := fullName(v, namespace)
	if err != nil {
		return nil, err
	}
	symNode := v.Get("symbols")
	if symNode == nil || symNode.Type() != fastjson.TypeArray {
		return nil, malformed("enum %s without \"symbols\" array", full)
	}
	nodes := symNode.GetArray()
	symbols := make([]string, 0, len(nodes))
	for _, s := range nodes {
		if s.Type() != fastjson.TypeString {
			return nil, malformed("enum %s has a non-string symbol", full)
		}
		symbols = append(symbols, string(s.GetStringBytes()))
	}
	t := &Type{Kind: Enum, Name: full, Symbols: symbols}
	if err := p.define(full, t); err != nil {
		return nil, err
	}
	return t, nil
}
