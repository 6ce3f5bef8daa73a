package hashing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sms-bridge/internal/config"
)

func testHasher() *Hasher {
	return &Hasher{params: Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1}}
}

func TestGenerateTokenFormat(t *testing.T) {
	h := testHasher()

	token, err := h.GenerateToken("+919876543210", "secret", 8, time.Now())
	require.NoError(t, err)

	assert.Len(t, token, DefaultTokenLength)
	assert.True(t, ValidTokenFormat(token), "token %q should match the Base32 alphabet", token)
}

func TestGenerateTokenLengthFromSettings(t *testing.T) {
	h := testHasher()
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	long, err := h.GenerateToken("+919876543210", "secret", 12, ts)
	require.NoError(t, err)
	assert.Len(t, long, 12)

	// Zero falls back to the default length.
	def, err := h.GenerateToken("+919876543210", "secret", 0, ts)
	require.NoError(t, err)
	assert.Len(t, def, DefaultTokenLength)

	// A longer token starts with the shorter one: same digest, same cut.
	assert.Equal(t, def, long[:DefaultTokenLength])
}

func TestGenerateTokenDeterministic(t *testing.T) {
	h := testHasher()
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	a, err := h.GenerateToken("+919876543210", "secret", 8, ts)
	require.NoError(t, err)
	b, err := h.GenerateToken("+919876543210", "secret", 8, ts)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestGenerateTokenVariesWithInputs(t *testing.T) {
	h := testHasher()
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	base, err := h.GenerateToken("+919876543210", "secret", 8, ts)
	require.NoError(t, err)

	otherMobile, err := h.GenerateToken("+919876543211", "secret", 8, ts)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherMobile)

	otherSecret, err := h.GenerateToken("+919876543210", "secret2", 8, ts)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherSecret)

	otherTime, err := h.GenerateToken("+919876543210", "secret", 8, ts.Add(time.Second))
	require.NoError(t, err)
	assert.NotEqual(t, base, otherTime)
}

func TestGenerateTokenEmptySecret(t *testing.T) {
	h := testHasher()

	_, err := h.GenerateToken("+919876543210", "", 8, time.Now())
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestValidTokenFormat(t *testing.T) {
	cases := map[string]bool{
		"ABCDEF23": true,
		"A2B3C4D5": true,
		"abcdef23": false, // lower case never valid
		"ABC":       false, // too short
		"ABCDEF234": true,  // longer tokens are valid when settings say so
		"ABCDEF01":  false, // 0 and 1 are not in the Base32 alphabet
		"":          false,
	}
	for input, want := range cases {
		assert.Equal(t, want, ValidTokenFormat(input), "input %q", input)
	}
}

func TestHashPINDeterministic(t *testing.T) {
	h := testHasher()

	a := h.HashPIN("1234", "9876543210", "ABCDEF23")
	b := h.HashPIN("1234", "9876543210", "ABCDEF23")
	assert.Equal(t, a, b, "same inputs must yield the same digest")

	assert.NotEqual(t, a, h.HashPIN("1235", "9876543210", "ABCDEF23"))
	assert.NotEqual(t, a, h.HashPIN("1234", "9876543211", "ABCDEF23"))
	assert.NotEqual(t, a, h.HashPIN("1234", "9876543210", "ABCDEF24"))
}

func TestVerifyPIN(t *testing.T) {
	h := testHasher()

	digest := h.HashPIN("1234", "9876543210", "ABCDEF23")
	assert.True(t, h.VerifyPIN("1234", "9876543210", "ABCDEF23", digest))
	assert.False(t, h.VerifyPIN("4321", "9876543210", "ABCDEF23", digest))
}

func TestSignAndVerifyPayload(t *testing.T) {
	body := []byte(`{"users":[],"batch_size":0}`)

	sig := SignPayload(body, "secret")
	assert.NotEmpty(t, sig)
	assert.True(t, VerifySignature(body, "secret", sig))
	assert.False(t, VerifySignature(body, "other", sig))
	assert.False(t, VerifySignature([]byte("tampered"), "secret", sig))
}

func TestNewHasherReadsConfig(t *testing.T) {
	cfg := &config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  32 * 1024,
			Argon2TimeCost:    2,
			Argon2Parallelism: 1,
		},
	}

	h := NewHasher(cfg)
	assert.Equal(t, uint32(32*1024), h.params.Memory)
	assert.Equal(t, uint32(2), h.params.Iterations)
	assert.Equal(t, uint8(1), h.params.Parallelism)
}
