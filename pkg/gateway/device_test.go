package gateway

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateDeviceIdentityRoundTrip(t *testing.T) {
	dir := t.TempDir()

	created, err := LoadOrCreateDeviceIdentity(dir)
	require.NoError(t, err)
	assert.Len(t, created.DeviceID, 64, "device id is a sha256 hex digest")

	loaded, err := LoadOrCreateDeviceIdentity(dir)
	require.NoError(t, err)
	assert.Equal(t, created.DeviceID, loaded.DeviceID)
	assert.Equal(t, created.PublicKeyPEM, loaded.PublicKeyPEM)
}

func TestDeviceIdentityFilePermissions(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadOrCreateDeviceIdentity(dir)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "identity", "device.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestDeviceIDDerivedFromPublicKey(t *testing.T) {
	dir := t.TempDir()
	identity, err := LoadOrCreateDeviceIdentity(dir)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(identity.PublicKeyRawBase64URL())
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	assert.Equal(t, hex.EncodeToString(sum[:]), identity.DeviceID)
}

func TestSignProducesVerifiableSignature(t *testing.T) {
	dir := t.TempDir()
	identity, err := LoadOrCreateDeviceIdentity(dir)
	require.NoError(t, err)

	payload := "v1|abc|client|ui|operator|operator.read|1234|"
	sig, err := identity.Sign(payload)
	require.NoError(t, err)

	rawKey, err := base64.RawURLEncoding.DecodeString(identity.PublicKeyRawBase64URL())
	require.NoError(t, err)
	rawSig, err := base64.RawURLEncoding.DecodeString(sig)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(rawKey), []byte(payload), rawSig))
}

func TestBuildDeviceAuthPayloadVersions(t *testing.T) {
	base := DeviceAuthPayload{
		DeviceID:   "dev",
		ClientID:   "clawdeck",
		ClientMode: "ui",
		Role:       "operator",
		Scopes:     []string{"operator.read", "operator.admin"},
		SignedAtMs: 1700000000000,
		Token:      "tok",
	}

	v1 := BuildDeviceAuthPayload(base)
	assert.Equal(t, "v1|dev|clawdeck|ui|operator|operator.read,operator.admin|1700000000000|tok", v1)

	base.Nonce = "nonce-9"
	v2 := BuildDeviceAuthPayload(base)
	assert.True(t, strings.HasPrefix(v2, "v2|"))
	assert.True(t, strings.HasSuffix(v2, "|nonce-9"))
}

func TestDeviceTokenStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewDeviceTokenStore(dir)

	entry, err := store.Load("dev-1", "operator")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, store.Store("dev-1", "operator", "tok-op", []string{"b", "a", "a", " "}))
	require.NoError(t, store.Store("dev-1", "viewer", "tok-view", nil))

	entry, err = store.Load("dev-1", "operator")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "tok-op", entry.Token)
	assert.Equal(t, []string{"a", "b"}, entry.Scopes, "scopes deduplicated and sorted")

	// Storing one role preserves grants for the others.
	entry, err = store.Load("dev-1", "viewer")
	require.NoError(t, err)
	require.NotNil(t, entry)

	// A different device never reads this device's grants.
	entry, err = store.Load("dev-2", "operator")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, store.Clear("dev-1", "operator"))
	entry, err = store.Load("dev-1", "operator")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestDeviceAuthIncludesNonceAndToken(t *testing.T) {
	dir := t.TempDir()
	identity, err := LoadOrCreateDeviceIdentity(dir)
	require.NoError(t, err)
	store := NewDeviceTokenStore(dir)
	require.NoError(t, store.Store(identity.DeviceID, "operator", "cached-token", nil))

	auth := &DeviceAuth{
		Identity: identity,
		Store:    store,
		ClientID: "clawdeck",
		Mode:     "ui",
		Role:     "operator",
		Scopes:   []string{"operator.read"},
		now:      func() time.Time { return time.UnixMilli(1700000000000) },
	}

	material, err := auth.ConnectAuth("challenge-1")
	require.NoError(t, err)
	assert.Equal(t, identity.DeviceID, material["deviceId"])
	assert.Equal(t, "challenge-1", material["nonce"])
	assert.Equal(t, "cached-token", material["token"])
	assert.Equal(t, int64(1700000000000), material["signedAtMs"])
	assert.NotEmpty(t, material["signature"])

	noNonce, err := auth.ConnectAuth("")
	require.NoError(t, err)
	_, hasNonce := noNonce["nonce"]
	assert.False(t, hasNonce)
}

func TestTokenAuthShapes(t *testing.T) {
	material, err := TokenAuth{}.ConnectAuth("")
	require.NoError(t, err)
	assert.Nil(t, material)

	material, err = TokenAuth{Token: "t", Password: "p"}.ConnectAuth("ignored")
	require.NoError(t, err)
	assert.Equal(t, "t", material["token"])
	assert.Equal(t, "p", material["password"])
}
