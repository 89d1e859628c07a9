package value

// StructSchema describes the shape of a struct type: its field order
// and a name->index table for O(1) field lookups. Immutable after
// creation — the compiler/front end builds one schema per struct
// declaration and shares it across every instance.
type StructSchema struct {
	ObjHeader
	Name      string
	FieldName []string
	FieldIdx  map[string]int
	TypeID    int32
}

func NewStructSchema(name string, typeID int32, fields []string) *StructSchema {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[f] = i
	}
	return &StructSchema{Name: name, FieldName: fields, FieldIdx: idx, TypeID: typeID}
}

func (s *StructSchema) TypeName() string { return "struct-schema" }

// StructInstance is a fixed-size Value array indexed per its schema.
// Field count always equals the schema's field count; callers that
// build instances must size Fields accordingly.
type StructInstance struct {
	ObjHeader
	Schema *StructSchema
	Fields []Value
}

func NewStructInstance(schema *StructSchema) *StructInstance {
	return &StructInstance{Schema: schema, Fields: make([]Value, len(schema.FieldName))}
}

func (s *StructInstance) TypeName() string { return s.Schema.Name }

// FieldIndex looks up a field by name, returning its index and whether it
// exists on the schema.
func (s *StructInstance) FieldIndex(name string) (int, bool) {
	i, ok := s.Schema.FieldIdx[name]
	return i, ok
}
