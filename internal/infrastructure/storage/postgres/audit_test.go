package postgres

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangesCodec_SmallChangesStayPlain(t *testing.T) {
	codec, err := newChangesCodec()
	require.NoError(t, err)

	entry := AuditEntry{Changes: json.RawMessage(`{"amount":"10"}`)}
	codec.compress(&entry, DefaultCompressThreshold)

	assert.Equal(t, CompressionNone, entry.CompressionAlgo)
	assert.Nil(t, entry.ChangesCompressed)
	assert.JSONEq(t, `{"amount":"10"}`, string(entry.Changes))
}

func TestChangesCodec_RoundTripsLargeChanges(t *testing.T) {
	codec, err := newChangesCodec()
	require.NoError(t, err)

	large := []byte(`{"note":"` + string(bytes.Repeat([]byte("a"), 4096)) + `"}`)
	entry := AuditEntry{Changes: large}
	codec.compress(&entry, 1024)

	require.Equal(t, CompressionZstd, entry.CompressionAlgo)
	assert.Nil(t, entry.Changes)
	assert.Less(t, len(entry.ChangesCompressed), len(large))

	require.NoError(t, codec.decompress(&entry))
	assert.Equal(t, json.RawMessage(large), entry.Changes)
	assert.Nil(t, entry.ChangesCompressed)
}

func TestChangesCodec_CorruptPayload(t *testing.T) {
	codec, err := newChangesCodec()
	require.NoError(t, err)

	entry := AuditEntry{CompressionAlgo: CompressionZstd, ChangesCompressed: []byte("not zstd")}
	assert.Error(t, codec.decompress(&entry))
}
