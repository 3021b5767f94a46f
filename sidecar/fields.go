package sidecar

// FieldKind classifies how a Record field is represented in the XMP
// document: a plain attribute on the Description node, an unordered
// RDF Bag of text items, or a single-entry RDF Alt (language
// alternative) container.
type FieldKind int

const (
	KindAttribute FieldKind = iota
	KindBag
	KindAlt
)

// fieldInfo names one Record field the codec knows how to read and
// write. This is the compile-time equivalent of the source's
// per-field descriptor: one table, built once, with no runtime
// reflection over field names.
type fieldInfo struct {
	Name string
	Kind FieldKind
}

// Fields enumerates every Record field the sidecar schema carries.
// Update by name (used by CLI front-ends) must check membership here
// and fail with ErrUnknownField otherwise.
var Fields = []fieldInfo{
	{"uid", KindAttribute},
	{"hash", KindAttribute},
	{"caption", KindAlt},
	{"authors", KindBag},
	{"keywords", KindBag},
	{"source", KindAttribute},
	{"group_id", KindAttribute},
	{"collections", KindBag},
	{"rating", KindAttribute},
	{"date", KindAttribute},
	{"last_updated", KindAttribute},
	{"source_other", KindBag},
	{"source_via", KindBag},
}

// KnownField reports whether name is a recognized Record field.
func KnownField(name string) bool {
	for _, f := range Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
