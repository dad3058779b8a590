package gpg

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/iso-verifier/internal/config"
	"github.com/oshokin/iso-verifier/internal/domain/pipeline"
	"github.com/oshokin/iso-verifier/internal/repository/checkpoint"
)

const testISOName = "debian-12.5.0-amd64-netinst.iso"

// stageFixture prepares a working directory with a checksum checkpoint, a
// manifest and a settings file trusting the provided key via the keyserver.
func stageFixture(t *testing.T, entity *openpgp.Entity, keyserverURL string) (dir, cfgPath string) {
	t.Helper()

	dir = t.TempDir()

	repo := checkpoint.NewFileRepository(dir)
	fetched := pipeline.NewCheckpoint(pipeline.StepFetch, nil, "builder")
	fetched.PutArtifact(testISOName, &pipeline.Artifact{
		Type:     "iso",
		URL:      "https://mirror.local/" + testISOName,
		Version:  "12.5.0",
		Location: filepath.Join(dir, testISOName),
	})

	cp := pipeline.NewCheckpoint(pipeline.StepChecksum, fetched, "builder")
	cp.PutArtifact(testISOName, &pipeline.Artifact{
		Type:         "iso",
		SHA256:       "deadbeef",
		URL:          "https://mirror.local/" + testISOName,
		Version:      "12.5.0",
		Verified:     true,
		ChecksumFile: "SHA256SUMS",
		Location:     filepath.Join(dir, testISOName),
	})
	require.NoError(t, repo.Save(context.Background(), cp))

	cfgPath = filepath.Join(dir, "settings.yaml")
	require.NoError(t, config.Save(cfgPath, &config.Config{
		MirrorURL:   "https://mirror.local/",
		WorkDir:     dir,
		Keyservers:  []string{keyserverURL},
		TrustedKeys: []string{fingerprintOf(entity)},
	}))

	return dir, cfgPath
}

// TestRun_Verified covers the happy path: the trusted key is imported from
// the keyserver and the signed manifest produces a verified checkpoint.
func TestRun_Verified(t *testing.T) {
	t.Parallel()

	entity := newTestEntity(t)
	srv := keyServer(t, armoredPublicKey(t, entity), nil)
	dir, cfgPath := stageFixture(t, entity, srv.URL)

	signManifest(t, entity, filepath.Join(dir, "SHA256SUMS"),
		[]byte("deadbeef  "+testISOName+"\n"))

	require.NoError(t, Run(context.Background(), &Options{ConfigPath: cfgPath}))

	repo := checkpoint.NewFileRepository(dir)
	cp, err := repo.Load(context.Background(), pipeline.StepGPG)
	require.NoError(t, err)
	require.Equal(t, string(pipeline.StepChecksum), cp.PreviousStep)
	require.NotNil(t, cp.Verification)
	require.True(t, cp.Verification.GPGVerified)
	require.Equal(t, "SHA256SUMS", cp.Verification.ChecksumFile)
	require.Equal(t, entity.PrimaryKey.KeyIdString(), cp.Verification.SigningKey)
	require.False(t, cp.Verification.VerifiedAt.IsZero())

	// The verified artifact record is carried forward untouched.
	require.True(t, cp.Artifact(testISOName).Verified)

	// The imported key was persisted next to the checkpoints.
	_, err = os.Stat(filepath.Join(dir, config.DefaultKeyringFilename))
	require.NoError(t, err)
}

// TestRun_SkipBypassesNetwork ensures a skipped run contacts no keyserver,
// creates no keyring and records the unverified outcome truthfully.
func TestRun_SkipBypassesNetwork(t *testing.T) {
	t.Parallel()

	entity := newTestEntity(t)

	var hits atomic.Int64

	srv := keyServer(t, armoredPublicKey(t, entity), &hits)
	dir, cfgPath := stageFixture(t, entity, srv.URL)

	require.NoError(t, Run(context.Background(), &Options{ConfigPath: cfgPath, SkipGPG: true}))
	require.EqualValues(t, 0, hits.Load())

	repo := checkpoint.NewFileRepository(dir)
	cp, err := repo.Load(context.Background(), pipeline.StepGPG)
	require.NoError(t, err)
	require.NotNil(t, cp.Verification)
	require.False(t, cp.Verification.GPGVerified)
	require.Empty(t, cp.Verification.SigningKey)

	_, err = os.Stat(filepath.Join(dir, config.DefaultKeyringFilename))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRun_MissingSignature aborts without a checkpoint unless forced, in
// which case the failure is recorded truthfully.
func TestRun_MissingSignature(t *testing.T) {
	t.Parallel()

	entity := newTestEntity(t)
	srv := keyServer(t, armoredPublicKey(t, entity), nil)
	dir, cfgPath := stageFixture(t, entity, srv.URL)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "SHA256SUMS"),
		[]byte("deadbeef  "+testISOName+"\n"), 0o644))

	repo := checkpoint.NewFileRepository(dir)

	err := Run(context.Background(), &Options{ConfigPath: cfgPath})
	require.ErrorIs(t, err, pipeline.ErrSignatureMissing)

	_, err = repo.Load(context.Background(), pipeline.StepGPG)
	require.ErrorIs(t, err, pipeline.ErrCheckpointNotFound)

	require.NoError(t, Run(context.Background(), &Options{ConfigPath: cfgPath, Force: true}))

	cp, err := repo.Load(context.Background(), pipeline.StepGPG)
	require.NoError(t, err)
	require.False(t, cp.Verification.GPGVerified)
}

// TestRun_BadSignature treats a signature over different content as invalid.
func TestRun_BadSignature(t *testing.T) {
	t.Parallel()

	entity := newTestEntity(t)
	srv := keyServer(t, armoredPublicKey(t, entity), nil)
	dir, cfgPath := stageFixture(t, entity, srv.URL)

	manifestPath := filepath.Join(dir, "SHA256SUMS")
	signManifest(t, entity, manifestPath, []byte("deadbeef  "+testISOName+"\n"))
	require.NoError(t, os.WriteFile(manifestPath,
		[]byte("cafebabe  "+testISOName+"\n"), 0o644))

	err := Run(context.Background(), &Options{ConfigPath: cfgPath})
	require.ErrorIs(t, err, pipeline.ErrSignatureInvalid)
}

// TestRun_RequiresChecksumCheckpoint refuses to run without the predecessor.
func TestRun_RequiresChecksumCheckpoint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "settings.yaml")
	require.NoError(t, config.Save(cfgPath, &config.Config{
		MirrorURL: "https://mirror.local/",
		WorkDir:   dir,
	}))

	err := Run(context.Background(), &Options{ConfigPath: cfgPath})
	require.ErrorIs(t, err, pipeline.ErrCheckpointNotFound)
}
