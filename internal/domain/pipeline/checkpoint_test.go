package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSteps verifies step ordering, numbering and predecessor wiring.
func TestSteps(t *testing.T) {
	t.Parallel()

	require.Equal(t, []Step{StepFetch, StepChecksum, StepGPG}, Steps())
	require.Equal(t, 1, StepFetch.Number())
	require.Equal(t, 3, StepGPG.Number())
	require.Equal(t, Step(""), StepFetch.Previous())
	require.Equal(t, StepChecksum, StepGPG.Previous())

	step, ok := ParseStep("checksum")
	require.True(t, ok)
	require.Equal(t, StepChecksum, step)

	_, ok = ParseStep("upload")
	require.False(t, ok)

	require.Equal(t, "fetch.checkpoint.json", CheckpointFilename(StepFetch))
}

// TestNewCheckpoint_CarriesArtifactsForward ensures the previous stage's
// artifacts are deep-copied verbatim into the new checkpoint.
func TestNewCheckpoint_CarriesArtifactsForward(t *testing.T) {
	t.Parallel()

	previous := NewCheckpoint(StepFetch, nil, "builder")
	previous.PutArtifact("debian-12.5.0-amd64-netinst.iso", &Artifact{
		Type:      "iso",
		URL:       "https://mirror.local/debian-12.5.0-amd64-netinst.iso",
		Version:   "12.5.0",
		Location:  "/work/debian-12.5.0-amd64-netinst.iso",
		SizeBytes: 1024,
	})

	next := NewCheckpoint(StepChecksum, previous, "builder")
	require.Equal(t, string(StepFetch), next.PreviousStep)
	require.Equal(t, 2, next.StepNumber)

	carried := next.Artifact("debian-12.5.0-amd64-netinst.iso")
	require.NotNil(t, carried)
	require.Equal(t, previous.Artifact("debian-12.5.0-amd64-netinst.iso"), carried)

	// Deep copy: mutating the new record leaves the previous checkpoint intact.
	carried.Verified = true
	require.False(t, previous.Artifact("debian-12.5.0-amd64-netinst.iso").Verified)
}

// TestPutArtifact_MonotonicVerified ensures the Verified flag only ever
// transitions false to true, never back.
func TestPutArtifact_MonotonicVerified(t *testing.T) {
	t.Parallel()

	cp := NewCheckpoint(StepChecksum, nil, "builder")

	cp.PutArtifact("a.iso", &Artifact{Verified: false})
	require.False(t, cp.Artifact("a.iso").Verified)

	cp.PutArtifact("a.iso", &Artifact{Verified: true})
	require.True(t, cp.Artifact("a.iso").Verified)

	// An update claiming false must not regress the trust bit.
	cp.PutArtifact("a.iso", &Artifact{Verified: false})
	require.True(t, cp.Artifact("a.iso").Verified)
}

// TestValidate_SchemaVersion ensures mismatching schema versions are reported.
func TestValidate_SchemaVersion(t *testing.T) {
	t.Parallel()

	cp := NewCheckpoint(StepFetch, nil, "builder")
	require.NoError(t, cp.Validate())

	cp.SchemaVersion = SchemaVersion + 1
	require.ErrorIs(t, cp.Validate(), ErrSchemaVersionMismatch)
}

// TestClone ensures checkpoints are copied deeply.
func TestClone(t *testing.T) {
	t.Parallel()

	cp := NewCheckpoint(StepGPG, nil, "builder")
	cp.PutArtifact("a.iso", &Artifact{SHA256: "abc"})
	cp.Verification = &Verification{GPGVerified: true, ChecksumFile: "SHA512SUMS"}

	cloned := cp.Clone()
	cloned.Artifacts["a.iso"].SHA256 = "changed"
	cloned.Verification.GPGVerified = false

	require.Equal(t, "abc", cp.Artifacts["a.iso"].SHA256)
	require.True(t, cp.Verification.GPGVerified)
}
