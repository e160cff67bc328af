package models

// Field names one slot of a Record. The string values are stable and are used
// in logs, Firestore documents and JSON payloads.
type Field string

const (
	FieldFileNames      Field = "file_names"
	FieldFileIDs        Field = "file_ids"
	FieldLocalPaths     Field = "local_paths"
	FieldLocalNames     Field = "local_names"
	FieldUploadReceipts Field = "upload_receipts"
	FieldResolvedURLs   Field = "resolved_urls"
	FieldResolvedNames  Field = "resolved_names"
	FieldPending        Field = "pending"
	FieldExtractedTexts Field = "extracted_texts"
	FieldOutputURIs     Field = "output_uris"
	FieldDropped        Field = "dropped"
)

// AllFields lists every Record field in pipeline order.
var AllFields = []Field{
	FieldFileNames,
	FieldFileIDs,
	FieldLocalPaths,
	FieldLocalNames,
	FieldUploadReceipts,
	FieldResolvedURLs,
	FieldResolvedNames,
	FieldPending,
	FieldExtractedTexts,
	FieldOutputURIs,
	FieldDropped,
}

// Receipt is the confirmation returned by an upload backend. Name ties the
// receipt back to the file it was created for.
type Receipt struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Raw  map[string]any `json:"raw,omitempty"`
}

// DroppedItem records an item a stage removed from its output.
type DroppedItem struct {
	Stage  string `json:"stage"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Record is the state threaded through the pipeline. A nil slice means the
// producing stage has not run yet; readers treat it as empty.
//
// LocalNames is aligned with LocalPaths, ResolvedNames with ResolvedURLs,
// ExtractedTexts and OutputURIs. They keep the mapping back to FileNames when a stage drops
// items.
type Record struct {
	FileNames      []string      `json:"fileNames"`
	FileIDs        []string      `json:"fileIds"`
	LocalPaths     []string      `json:"localPaths"`
	LocalNames     []string      `json:"localNames"`
	UploadReceipts []Receipt     `json:"uploadReceipts"`
	ResolvedURLs   []string      `json:"resolvedUrls"`
	ResolvedNames  []string      `json:"resolvedNames"`
	Pending        []Receipt     `json:"pending"`
	ExtractedTexts []string      `json:"extractedTexts"`
	OutputURIs     []string      `json:"outputUris"`
	Dropped        []DroppedItem `json:"dropped"`
}

// Has reports whether f has been produced.
func (r Record) Has(f Field) bool {
	switch f {
	case FieldFileNames:
		return r.FileNames != nil
	case FieldFileIDs:
		return r.FileIDs != nil
	case FieldLocalPaths:
		return r.LocalPaths != nil
	case FieldLocalNames:
		return r.LocalNames != nil
	case FieldUploadReceipts:
		return r.UploadReceipts != nil
	case FieldResolvedURLs:
		return r.ResolvedURLs != nil
	case FieldResolvedNames:
		return r.ResolvedNames != nil
	case FieldPending:
		return r.Pending != nil
	case FieldExtractedTexts:
		return r.ExtractedTexts != nil
	case FieldOutputURIs:
		return r.OutputURIs != nil
	case FieldDropped:
		return r.Dropped != nil
	}
	return false
}

// Present returns the fields that have been produced, in pipeline order.
func (r Record) Present() []Field {
	var out []Field
	for _, f := range AllFields {
		if r.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Clone returns a deep copy so callers can hand out a view without sharing
// backing arrays.
func (r Record) Clone() Record {
	out := Record{
		FileNames:      cloneSlice(r.FileNames),
		FileIDs:        cloneSlice(r.FileIDs),
		LocalPaths:     cloneSlice(r.LocalPaths),
		LocalNames:     cloneSlice(r.LocalNames),
		ResolvedURLs:   cloneSlice(r.ResolvedURLs),
		ResolvedNames:  cloneSlice(r.ResolvedNames),
		ExtractedTexts: cloneSlice(r.ExtractedTexts),
		OutputURIs:     cloneSlice(r.OutputURIs),
		Dropped:        cloneSlice(r.Dropped),
		UploadReceipts: cloneReceipts(r.UploadReceipts),
		Pending:        cloneReceipts(r.Pending),
	}
	return out
}

// Apply replaces every field named by d with the delta's value. Fields the
// delta does not name are left as they are. A named field is never left nil,
// so an empty result still counts as produced.
func (r *Record) Apply(d Delta) {
	src := d.Values.Clone()
	for _, f := range d.Fields {
		switch f {
		case FieldFileNames:
			r.FileNames = nonNil(src.FileNames)
		case FieldFileIDs:
			r.FileIDs = nonNil(src.FileIDs)
		case FieldLocalPaths:
			r.LocalPaths = nonNil(src.LocalPaths)
		case FieldLocalNames:
			r.LocalNames = nonNil(src.LocalNames)
		case FieldUploadReceipts:
			r.UploadReceipts = nonNil(src.UploadReceipts)
		case FieldResolvedURLs:
			r.ResolvedURLs = nonNil(src.ResolvedURLs)
		case FieldResolvedNames:
			r.ResolvedNames = nonNil(src.ResolvedNames)
		case FieldPending:
			r.Pending = nonNil(src.Pending)
		case FieldExtractedTexts:
			r.ExtractedTexts = nonNil(src.ExtractedTexts)
		case FieldOutputURIs:
			r.OutputURIs = nonNil(src.OutputURIs)
		case FieldDropped:
			r.Dropped = nonNil(src.Dropped)
		}
	}
}

// Delta is the partial record a stage returns. Only Fields are applied.
type Delta struct {
	Fields []Field
	Values Record
}

// NewDelta builds a delta naming fields, taking their values from values.
func NewDelta(values Record, fields ...Field) Delta {
	return Delta{Fields: fields, Values: values}
}

// Names returns the field names of the delta.
func (d Delta) Names() []string {
	out := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		out = append(out, string(f))
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

func cloneReceipts(in []Receipt) []Receipt {
	if in == nil {
		return nil
	}
	out := make([]Receipt, len(in))
	for i, r := range in {
		out[i] = Receipt{ID: r.ID, Name: r.Name}
		if r.Raw != nil {
			out[i].Raw = make(map[string]any, len(r.Raw))
			for k, v := range r.Raw {
				out[i].Raw[k] = v
			}
		}
	}
	return out
}
