package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordApplyReplacesNamedFieldsOnly(t *testing.T) {
	rec := Record{
		FileNames: []string{"a.pdf", "b.pdf"},
		FileIDs:   []string{"id1", "id2"},
	}

	rec.Apply(NewDelta(Record{
		LocalPaths: []string{"/tmp/a.pdf"},
		LocalNames: []string{"a.pdf"},
		FileNames:  []string{"ignored"},
	}, FieldLocalPaths, FieldLocalNames))

	assert.Equal(t, []string{"a.pdf", "b.pdf"}, rec.FileNames)
	assert.Equal(t, []string{"id1", "id2"}, rec.FileIDs)
	assert.Equal(t, []string{"/tmp/a.pdf"}, rec.LocalPaths)
	assert.Equal(t, []string{"a.pdf"}, rec.LocalNames)

	rec.Apply(NewDelta(Record{LocalPaths: []string{"/tmp/b.pdf"}}, FieldLocalPaths))
	assert.Equal(t, []string{"/tmp/b.pdf"}, rec.LocalPaths, "whole-field replace, no merge")
}

func TestRecordApplyNamedNilBecomesEmpty(t *testing.T) {
	var rec Record
	require.False(t, rec.Has(FieldExtractedTexts))

	rec.Apply(NewDelta(Record{}, FieldExtractedTexts, FieldDropped))

	assert.True(t, rec.Has(FieldExtractedTexts))
	assert.NotNil(t, rec.ExtractedTexts)
	assert.Empty(t, rec.ExtractedTexts)
	assert.Equal(t, []Field{FieldExtractedTexts, FieldDropped}, rec.Present())
}

func TestRecordCloneIsIndependent(t *testing.T) {
	rec := Record{
		FileNames:      []string{"a.pdf"},
		UploadReceipts: []Receipt{{ID: "r1", Name: "a.pdf", Raw: map[string]any{"k": "v"}}},
	}
	view := rec.Clone()
	view.FileNames[0] = "mutated"
	view.UploadReceipts[0].Raw["k"] = "mutated"

	assert.Equal(t, "a.pdf", rec.FileNames[0])
	assert.Equal(t, "v", rec.UploadReceipts[0].Raw["k"])
	assert.Nil(t, view.LocalPaths)
}

func TestRecordApplyDoesNotAliasDelta(t *testing.T) {
	names := []string{"a.pdf"}
	var rec Record
	rec.Apply(NewDelta(Record{FileNames: names}, FieldFileNames))
	names[0] = "changed"
	assert.Equal(t, "a.pdf", rec.FileNames[0])
}
