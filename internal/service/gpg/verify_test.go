package gpg

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/require"
)

// newTestEntity generates a fresh signing key pair for tests.
func newTestEntity(t *testing.T) *openpgp.Entity {
	t.Helper()

	entity, err := openpgp.NewEntity("Test Signer", "", "signer@example.org", nil)
	require.NoError(t, err)

	return entity
}

// fingerprintOf returns the upper-cased hex fingerprint of the entity.
func fingerprintOf(entity *openpgp.Entity) string {
	return fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint)
}

// armoredPublicKey serializes the entity's public parts as one armor block.
func armoredPublicKey(t *testing.T, entity *openpgp.Entity) []byte {
	t.Helper()

	var buf bytes.Buffer

	armored, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(armored))
	require.NoError(t, armored.Close())

	return buf.Bytes()
}

// signManifest writes the manifest and its armored detached signature.
func signManifest(t *testing.T, entity *openpgp.Entity, manifestPath string, content []byte) {
	t.Helper()

	require.NoError(t, os.WriteFile(manifestPath, content, 0o644))

	var sig bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&sig, entity, bytes.NewReader(content), nil))
	require.NoError(t, os.WriteFile(manifestPath+".sign", sig.Bytes(), 0o644))
}

// TestVerifyDetached_Verified checks the happy path and that tampering with
// the signed manifest afterwards is reported as a bad signature.
func TestVerifyDetached_Verified(t *testing.T) {
	t.Parallel()

	entity := newTestEntity(t)
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "SHA256SUMS")
	content := []byte("deadbeef  debian-12.5.0-amd64-netinst.iso\n")
	signManifest(t, entity, manifestPath, content)

	result, err := verifyDetached(openpgp.EntityList{entity}, manifestPath)
	require.NoError(t, err)
	require.True(t, result.Verified())
	require.Equal(t, StatusVerified, result.Status)
	require.Equal(t, entity.PrimaryKey.KeyIdString(), result.SigningKey)
	require.Equal(t, "SHA256SUMS.sign", result.SignatureFile)

	// One flipped byte in the manifest invalidates the signature.
	tampered := append([]byte(nil), content...)
	tampered[0] ^= 0x01
	require.NoError(t, os.WriteFile(manifestPath, tampered, 0o644))

	result, err = verifyDetached(openpgp.EntityList{entity}, manifestPath)
	require.NoError(t, err)
	require.False(t, result.Verified())
	require.Equal(t, StatusBadSignature, result.Status)
	require.Error(t, result.Detail)
}

// TestVerifyDetached_NoPublicKey reports an unknown signer when the keyring
// holds a different key.
func TestVerifyDetached_NoPublicKey(t *testing.T) {
	t.Parallel()

	signer := newTestEntity(t)
	stranger := newTestEntity(t)
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "SHA256SUMS")
	signManifest(t, signer, manifestPath, []byte("deadbeef  a.iso\n"))

	result, err := verifyDetached(openpgp.EntityList{stranger}, manifestPath)
	require.NoError(t, err)
	require.Equal(t, StatusNoPublicKey, result.Status)
}

// TestVerifyDetached_NoSignature reports the absence of a signature file
// without consulting the keyring.
func TestVerifyDetached_NoSignature(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "SHA256SUMS")
	require.NoError(t, os.WriteFile(manifestPath, []byte("deadbeef  a.iso\n"), 0o644))

	result, err := verifyDetached(nil, manifestPath)
	require.NoError(t, err)
	require.Equal(t, StatusNoSignature, result.Status)
	require.Empty(t, result.SignatureFile)
}

// TestVerifyDetached_AscSibling finds the ".asc" signature when no ".sign"
// sibling exists.
func TestVerifyDetached_AscSibling(t *testing.T) {
	t.Parallel()

	entity := newTestEntity(t)
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "SHA256SUMS")
	content := []byte("deadbeef  a.iso\n")
	signManifest(t, entity, manifestPath, content)
	require.NoError(t, os.Rename(manifestPath+".sign", manifestPath+".asc"))

	result, err := verifyDetached(openpgp.EntityList{entity}, manifestPath)
	require.NoError(t, err)
	require.True(t, result.Verified())
	require.Equal(t, "SHA256SUMS.asc", result.SignatureFile)
}
