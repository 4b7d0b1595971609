package buffer

// FieldType enumerates the fixed-width and variable-sized field types
// spec §3 "Schema" names.
type FieldType int

const (
	Int8 FieldType = iota
	Int16
	Int32
	Int64
	UInt8
	UInt16
	UInt32
	UInt64
	Float32
	Float64
	Bool
	Char
	// VarSized covers both UTF-8 text and opaque bytes; the payload lives
	// out-of-line in a child buffer referenced by a stable child key.
	VarSized
)

// Width returns the fixed on-the-wire width of t in bytes, or 0 for
// VarSized (whose slot instead holds an encoded ChildKey).
func (t FieldType) Width() int {
	switch t {
	case Int8, UInt8, Bool, Char:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32, Float32:
		return 4
	case Int64, UInt64, Float64:
		return 8
	default:
		return 0
	}
}

// Field is one (name, type) pair in a Schema.
type Field struct {
	Name string
	Type FieldType
}

// Schema is an ordered list of fields.
type Schema struct {
	Fields []Field
}

// TupleSize returns the fixed-width byte size of one tuple slot, where
// VarSized fields occupy a fixed-width child-key slot (8 bytes, enough
// to encode a ChildKey).
func (s Schema) TupleSize() int {
	size := 0
	for _, f := range s.Fields {
		if f.Type == VarSized {
			size += 8
		} else {
			size += f.Type.Width()
		}
	}
	return size
}
