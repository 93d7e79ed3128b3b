package ctypes

// FieldOffset is one field's resolved position within an aggregate.
type FieldOffset struct {
	Name   string
	Type   Type
	Offset int64
}

// StructLayout is the resolved size, alignment, and per-field offsets of a
// struct or union.
type StructLayout struct {
	Fields []FieldOffset
	Size   int64
	Align  int64
}

// alignUp rounds n up to the next multiple of align (align must be a power
// of two, as all type alignments here are).
func alignUp(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// Layout computes a sequential struct layout: fields placed in declaration
// order, each starting at the next offset satisfying its own alignment,
// with trailing padding so the whole struct's size is a multiple of its
// alignment (the widest field alignment).
func Layout(fields []Field) StructLayout {
	var out StructLayout
	var offset int64
	var maxAlign int64 = 1

	for _, f := range fields {
		a := f.Type.Align()
		if a > maxAlign {
			maxAlign = a
		}
		offset = alignUp(offset, a)
		out.Fields = append(out.Fields, FieldOffset{Name: f.Name, Type: f.Type, Offset: offset})
		offset += f.Type.Size()
	}

	out.Align = maxAlign
	out.Size = alignUp(offset, maxAlign)
	return out
}

// unionLayout computes a union's layout: every field starts at offset 0;
// the union's size is the widest field, padded to the widest alignment.
func unionLayout(fields []Field) StructLayout {
	var out StructLayout
	var maxSize int64
	var maxAlign int64 = 1

	for _, f := range fields {
		out.Fields = append(out.Fields, FieldOffset{Name: f.Name, Type: f.Type, Offset: 0})
		if s := f.Type.Size(); s > maxSize {
			maxSize = s
		}
		if a := f.Type.Align(); a > maxAlign {
			maxAlign = a
		}
	}

	out.Align = maxAlign
	out.Size = alignUp(maxSize, maxAlign)
	return out
}

// FieldOffsetOf looks up a struct or union field's resolved offset and type
// by name. ok is false if no such field exists.
func FieldOffsetOf(t Type, name string) (FieldOffset, bool) {
	var layout StructLayout
	switch tt := t.(type) {
	case Tstruct:
		layout = Layout(tt.Fields)
	case Tunion:
		layout = unionLayout(tt.Fields)
	default:
		return FieldOffset{}, false
	}
	for _, fo := range layout.Fields {
		if fo.Name == name {
			return fo, true
		}
	}
	return FieldOffset{}, false
}
