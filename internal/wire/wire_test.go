package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg, err := EncodeName("echo_service")
	require.NoError(t, err)
	name, err := DecodeName(msg)
	require.NoError(t, err)
	require.Equal(t, "echo_service", name)
}

func TestEncodeEmptyRejected(t *testing.T) {
	_, err := EncodeName("")
	require.ErrorIs(t, err, ErrNameEmpty)
}

func TestEncodeTooLongRejected(t *testing.T) {
	_, err := EncodeName(strings.Repeat("a", MaxNameLen))
	require.ErrorIs(t, err, ErrNameTooLong)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := DecodeName([]byte{0, 'x'})
	require.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeName([]byte("no-nul"))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeName([]byte{'a'})
	require.ErrorIs(t, err, ErrMalformed)
}
