package socket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrace_RecordAndRender(t *testing.T) {
	tr := NewTrace()
	tr.Record(CategoryFlow, "Opening new connection")
	tr.Record(CategoryMessage, "Received message (%d bytes)", 12)

	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, CategoryMessage, entries[1].Category)
	assert.Equal(t, "Received message (12 bytes)", entries[1].Detail)
	assert.False(t, entries[0].Time.IsZero())

	assert.Equal(t, "\n\n[Execution Flow]\n - Opening new connection\n - Received message (12 bytes)\n", tr.String())
}

func TestTrace_HasAndReset(t *testing.T) {
	tr := NewTrace()
	tr.Record(CategoryError, "Invalid disconnect regular expression pattern")

	assert.True(t, tr.Has(CategoryError, "disconnect"))
	assert.False(t, tr.Has(CategoryFlow, "disconnect"))

	tr.Reset()
	assert.Empty(t, tr.Entries())
}
