package xcrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pk, sk, err := GenerateKeyPair()
	require.NoError(t, err)
	msg := []byte("header bytes")
	sig := Sign(sk, msg)
	assert.True(t, Verify(pk, msg, sig))
	assert.NoError(t, VerifyChecked(pk, msg, sig))
}

func TestVerifyCheckedRejectsTamperedMessage(t *testing.T) {
	pk, sk, err := GenerateKeyPair()
	require.NoError(t, err)
	sig := Sign(sk, []byte("original"))
	err = VerifyChecked(pk, []byte("tampered"), sig)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestDigestIsDeterministic(t *testing.T) {
	a := Digest([]byte("a"), []byte("b"))
	b := Digest([]byte("a"), []byte("b"))
	assert.Equal(t, a, b)
	c := Digest([]byte("ab"))
	assert.NotEqual(t, a, c)
}

func TestAddressThreadIsStable(t *testing.T) {
	pk, _, err := GenerateKeyPair()
	require.NoError(t, err)
	addr := AddressOf(pk)
	th1 := addr.Thread(8)
	th2 := addr.Thread(8)
	assert.Equal(t, th1, th2)
	assert.Less(t, th1, uint8(8))
}

func TestPRFVariesByDomain(t *testing.T) {
	seed := Digest([]byte("cycle-seed"))
	a := PRF(seed, 1, 0)
	b := PRF(seed, 1, 1)
	c := PRF(seed, 2, 0)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}
