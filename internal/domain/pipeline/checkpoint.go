package pipeline

import (
	"fmt"
	"time"
)

// SchemaVersion is the checkpoint schema this implementation reads and writes.
// Loading a checkpoint with a different version is reported, never ignored.
const SchemaVersion = 2

// Step identifies one stage of the linear pipeline.
type Step string

const (
	// StepFetch discovers and downloads the artifact.
	StepFetch Step = "fetch"
	// StepChecksum verifies the artifact digest against a checksum manifest.
	StepChecksum Step = "checksum"
	// StepGPG verifies the detached signature over the checksum manifest.
	StepGPG Step = "gpg"
)

// Steps returns the pipeline stages in execution order.
func Steps() []Step {
	return []Step{StepFetch, StepChecksum, StepGPG}
}

// ParseStep maps a stage name to its Step, reporting whether it is known.
func ParseStep(s string) (Step, bool) {
	for _, step := range Steps() {
		if string(step) == s {
			return step, true
		}
	}

	return "", false
}

// Number returns the 1-based position of the step in the pipeline.
func (s Step) Number() int {
	for i, step := range Steps() {
		if step == s {
			return i + 1
		}
	}

	return 0
}

// Previous returns the step whose checkpoint this step consumes ("" for the first).
func (s Step) Previous() Step {
	steps := Steps()
	for i, step := range steps {
		if step == s && i > 0 {
			return steps[i-1]
		}
	}

	return ""
}

// CheckpointFilename returns the conventional on-disk name for a stage checkpoint.
func CheckpointFilename(s Step) string {
	return fmt.Sprintf("%s.checkpoint.json", s)
}

// Artifact describes one downloaded file tracked by the pipeline.
type Artifact struct {
	// Type classifies the artifact (e.g. "iso").
	Type string `json:"type"`
	// SHA256 is the lower-cased hex digest recorded at checksum time.
	SHA256 string `json:"sha256"`
	// SHA512 is recorded when the stronger manifest was used.
	SHA512 string `json:"sha512,omitempty"`
	// URL is the source the artifact was downloaded from.
	URL string `json:"url"`
	// Version is the artifact version extracted during discovery.
	Version string `json:"version"`
	// Verified is the monotonic trust bit; it never transitions back to false.
	Verified bool `json:"verified"`
	// ChecksumFile names the manifest that vouched for the artifact.
	ChecksumFile string `json:"checksum_file,omitempty"`
	// Location is the absolute path the artifact was stored at.
	Location string `json:"location"`
	// SizeBytes is the artifact size observed after download.
	SizeBytes int64 `json:"size_bytes"`
}

// Clone returns a deep copy of the artifact.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// Verification records the signature stage outcome.
type Verification struct {
	// GPGVerified reports whether the detached signature checked out.
	GPGVerified bool `json:"gpg_verified"`
	// ChecksumFile is the manifest the signature covers.
	ChecksumFile string `json:"checksum_file"`
	// SigningKey is the key ID that produced a good signature.
	SigningKey string `json:"signing_key,omitempty"`
	// VerifiedAt is when the verification was performed.
	VerifiedAt time.Time `json:"verified_at"`
}

// Clone returns a copy of the verification record.
func (v *Verification) Clone() *Verification {
	if v == nil {
		return nil
	}

	cloned := *v

	return &cloned
}

// Checkpoint is the persisted state record marking a stage's completion.
// It is written once at the end of a successful stage run and read-only
// thereafter; the next stage consumes it by filename convention.
type Checkpoint struct {
	// SchemaVersion must equal SchemaVersion or the checkpoint is rejected.
	SchemaVersion int `json:"schema_version"`
	// Step is the stage that produced this checkpoint.
	Step Step `json:"step"`
	// StepNumber is the 1-based position of the stage in the pipeline.
	StepNumber int `json:"step_number"`
	// CreatedAt is the UTC time the checkpoint was written.
	CreatedAt time.Time `json:"created_at"`
	// Hostname records where the stage ran.
	Hostname string `json:"hostname"`
	// PreviousStep names the stage whose checkpoint was consumed ("" for the first).
	PreviousStep string `json:"previous_step"`
	// Artifacts maps artifact filenames to their records.
	Artifacts map[string]*Artifact `json:"artifacts"`
	// Verification is present from the signature stage onward.
	Verification *Verification `json:"verification,omitempty"`
}

// NewCheckpoint builds the record for a finished stage, carrying forward the
// previous stage's artifacts verbatim (deep-copied, so the prior checkpoint
// can never be mutated through the new one).
func NewCheckpoint(step Step, previous *Checkpoint, hostname string) *Checkpoint {
	cp := &Checkpoint{
		SchemaVersion: SchemaVersion,
		Step:          step,
		StepNumber:    step.Number(),
		CreatedAt:     time.Now().UTC(),
		Hostname:      hostname,
		Artifacts:     make(map[string]*Artifact),
	}

	if previous != nil {
		cp.PreviousStep = string(previous.Step)

		for name, artifact := range previous.Artifacts {
			cp.Artifacts[name] = artifact.Clone()
		}
	}

	return cp
}

// PutArtifact stores an artifact record under its filename, enforcing the
// monotonic trust rule: an artifact already verified in this checkpoint
// stays verified no matter what the update says.
func (c *Checkpoint) PutArtifact(name string, artifact *Artifact) {
	merged := artifact.Clone()

	if existing, ok := c.Artifacts[name]; ok && existing.Verified {
		merged.Verified = true
	}

	c.Artifacts[name] = merged
}

// Artifact returns the record stored under the provided filename, or nil.
func (c *Checkpoint) Artifact(name string) *Artifact {
	return c.Artifacts[name]
}

// Clone returns a deep copy of the checkpoint.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}

	cloned := *c
	cloned.Verification = c.Verification.Clone()
	cloned.Artifacts = make(map[string]*Artifact, len(c.Artifacts))

	for name, artifact := range c.Artifacts {
		cloned.Artifacts[name] = artifact.Clone()
	}

	return &cloned
}

// Validate reports a schema version mismatch as ErrSchemaVersionMismatch.
func (c *Checkpoint) Validate() error {
	if c.SchemaVersion != SchemaVersion {
		return fmt.Errorf("expected schema version %d, got %d: %w",
			SchemaVersion, c.SchemaVersion, ErrSchemaVersionMismatch)
	}

	return nil
}
