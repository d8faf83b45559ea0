package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDecodeKeepsFieldOrder(t *testing.T) {
	var rec Record
	err := json.Unmarshal([]byte(`{"id": 7, "title": "Big deal", "org_id": {"value": 3, "name": "Acme"}, "active": true, "closed": null}`), &rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "title", "org_id", "active", "closed"}, rec.Keys())

	id, _ := rec.Get("id")
	assert.Equal(t, json.Number("7"), id)

	org, _ := rec.Get("org_id")
	nested, ok := org.(Record)
	require.True(t, ok)
	assert.Equal(t, []string{"value", "name"}, nested.Keys())

	closed, present := rec.Get("closed")
	assert.True(t, present)
	assert.Nil(t, closed)
}

func TestRecordMarshalUsesFieldOrder(t *testing.T) {
	rec := RecordOf("zeta", 1, "alpha", "x", "nested", RecordOf("b", 2, "a", 1))

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":"x","nested":{"b":2,"a":1}}`, string(data))
}

func TestRecordCloneIsIndependent(t *testing.T) {
	orig := RecordOf("id", 1, "name", "a")
	clone := orig.Clone()
	clone.Set("name", "b")
	clone.Set("extra", true)
	clone.Delete("id")

	name, _ := orig.Get("name")
	assert.Equal(t, "a", name)
	assert.Equal(t, []string{"id", "name"}, orig.Keys())
	assert.Equal(t, []string{"name", "extra"}, clone.Keys())
}

func TestDecodeRecords(t *testing.T) {
	t.Run("array of objects", func(t *testing.T) {
		records, err := DecodeRecords([]byte(`[{"id":1},{"id":2,"name":"b"}]`))
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, []string{"id", "name"}, records[1].Keys())
	})

	t.Run("null payload", func(t *testing.T) {
		records, err := DecodeRecords([]byte(`null`))
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("object payload", func(t *testing.T) {
		_, err := DecodeRecords([]byte(`{"id":1}`))
		assert.Error(t, err)
	})

	t.Run("non-object item", func(t *testing.T) {
		_, err := DecodeRecords([]byte(`[{"id":1}, 5]`))
		assert.Error(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := DecodeRecords([]byte(`[{"id":1}, {"id"`))
		assert.Error(t, err)
	})
}
