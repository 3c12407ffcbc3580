package godwarf

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecompressMaybe(t *testing.T) {
	raw := []byte("plain section data")
	out, err := decompressMaybe(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	var z bytes.Buffer
	z.WriteString("ZLIB")
	require.NoError(t, binary.Write(&z, binary.BigEndian, uint64(len(raw))))
	w := zlib.NewWriter(&z)
	_, err = w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out, err = decompressMaybe(z.Bytes())
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}
