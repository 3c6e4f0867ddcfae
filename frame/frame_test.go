package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardartoul/methodcache/fingerprint"
)

func testFrame(t *testing.T) *Frame {
	t.Helper()
	f, err := New(
		Column{Name: "id", DType: "int64", Values: []string{"1", "2", "3"}},
		Column{Name: "label", DType: "string", Values: []string{"a", "b", "c"}},
	)
	require.NoError(t, err)
	return f
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		columns []Column
	}{
		{"unnamed", []Column{{DType: "int64"}}},
		{"duplicate", []Column{{Name: "a"}, {Name: "a"}}},
		{"ragged", []Column{{Name: "a", Values: []string{"1"}}, {Name: "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.columns...)
			assert.Error(t, err)
		})
	}
}

func TestSelect(t *testing.T) {
	t.Parallel()

	f := testFrame(t)
	assert.Equal(t, 3, f.Rows())

	sel, err := f.Select("label")
	require.NoError(t, err)
	require.Len(t, sel.Columns, 1)
	assert.Equal(t, "label", sel.Columns[0].Name)

	_, err = f.Select("missing")
	assert.Error(t, err)
}

func TestContentHash(t *testing.T) {
	t.Parallel()

	base, err := testFrame(t).ContentHash()
	require.NoError(t, err)
	again, err := testFrame(t).ContentHash()
	require.NoError(t, err)
	assert.Equal(t, base, again)

	changes := map[string]func(f *Frame){
		"value":  func(f *Frame) { f.Columns[1].Values[2] = "d" },
		"dtype":  func(f *Frame) { f.Columns[0].DType = "float64" },
		"name":   func(f *Frame) { f.Columns[0].Name = "key" },
		"order":  func(f *Frame) { f.Columns[0], f.Columns[1] = f.Columns[1], f.Columns[0] },
		"shift":  func(f *Frame) { f.Columns[1].Values[0], f.Columns[1].Values[1] = "ab", "" },
		"append": func(f *Frame) { f.Columns = append(f.Columns, Column{Name: "extra", Values: []string{"", "", ""}}) },
	}
	for name, change := range changes {
		f := testFrame(t)
		change(f)
		got, err := f.ContentHash()
		require.NoError(t, err)
		assert.NotEqual(t, base, got, name)
	}
}

func TestTableFingerprint(t *testing.T) {
	t.Parallel()

	a, err := fingerprint.Table{}.Fingerprint(testFrame(t))
	require.NoError(t, err)
	b, err := fingerprint.Table{}.Fingerprint(testFrame(t))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestHandlerRoundTrip(t *testing.T) {
	t.Parallel()

	f := testFrame(t)
	var buf bytes.Buffer
	require.NoError(t, Handler.Write(&buf, f))

	var got *Frame
	require.NoError(t, Handler.Read(&buf, &got))
	assert.Equal(t, f, got)
}

func TestHandlerRejectsOtherTypes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	assert.Error(t, Handler.Write(&buf, "not a frame"))

	var s string
	assert.Error(t, Handler.Read(bytes.NewReader(nil), &s))
	assert.False(t, Handler.AcceptsNil)
	assert.Equal(t, "frame", Handler.Suffix)
}
