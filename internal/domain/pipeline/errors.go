package pipeline

import "errors"

// Error taxonomy shared by every stage. Services wrap these sentinels with
// the artifact, stage and reason that triggered them.
var (
	// ErrDependencyMissing indicates a required external collaborator is unavailable.
	ErrDependencyMissing = errors.New("required dependency is missing")
	// ErrDiscoveryFailed indicates the mirror listing was unreachable or matched nothing.
	ErrDiscoveryFailed = errors.New("artifact discovery failed")
	// ErrNetworkFailure indicates a transfer error; partial files are removed.
	ErrNetworkFailure = errors.New("network transfer failed")
	// ErrChecksumMismatch is terminal: the local digest differs from the manifest.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrManifestNotFound is soft: no manifest names the artifact. Tolerated only with force.
	ErrManifestNotFound = errors.New("checksum manifest not found")
	// ErrSignatureMissing indicates the detached signature file is absent.
	ErrSignatureMissing = errors.New("detached signature not found")
	// ErrSignatureInvalid indicates the signature did not verify against the keyring.
	ErrSignatureInvalid = errors.New("signature verification failed")
	// ErrSchemaVersionMismatch is a warning-level integrity issue; callers decide.
	ErrSchemaVersionMismatch = errors.New("checkpoint schema version mismatch")
	// ErrArtifactNotFound indicates a recorded artifact could not be located on disk.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrCheckpointNotFound indicates the previous stage's checkpoint is missing.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)
