package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	box, err := NewBox("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := box.Seal("ghp_token")
	require.NoError(t, err)
	assert.True(t, Sealed(sealed))
	assert.NotContains(t, sealed, "ghp_token")

	again, err := box.Seal("ghp_token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ghp_token", plain)
}

func TestOpenPlaintextPassesThrough(t *testing.T) {
	box, err := NewBox("k")
	require.NoError(t, err)
	plain, err := box.Open("legacy-token")
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", plain)

	var nilBox *Box
	plain, err = nilBox.Open("legacy-token")
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", plain)
}

func TestOpenWrongKey(t *testing.T) {
	a, _ := NewBox("a")
	b, _ := NewBox("b")
	sealed, err := a.Seal("secret")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = a.Open(sealed[:len(sealed)-4] + strings.Repeat("A", 4))
	assert.ErrorIs(t, err, ErrDecrypt)

	var nilBox *Box
	_, err = nilBox.Open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestSealEmpty(t *testing.T) {
	box, _ := NewBox("k")
	out, err := box.Seal("")
	require.NoError(t, err)
	assert.Equal(t, "", out)

	_, err = NewBox("  ")
	assert.ErrorIs(t, err, ErrEmptyKey)
}
