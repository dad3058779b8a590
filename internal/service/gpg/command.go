package gpg

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/oshokin/iso-verifier/internal/config"
	"github.com/oshokin/iso-verifier/internal/domain/pipeline"
	"github.com/oshokin/iso-verifier/internal/logger"
	"github.com/oshokin/iso-verifier/internal/repository/checkpoint"
	"github.com/oshokin/iso-verifier/internal/service/common"
)

// Options are inputs accepted by the signature stage entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// SkipGPG bypasses signature verification entirely: no keyserver is
	// contacted and the checkpoint records the skip explicitly.
	SkipGPG bool
	// Force records a failed verification truthfully and continues instead
	// of aborting the stage.
	Force bool
}

// runner holds the collaborators of a single signature stage execution.
type runner struct {
	cfg      *config.Config
	repo     checkpoint.Repository
	keys     *keyStore
	hostname string
	skip     bool
	force    bool
}

// Run executes the signature stage and is the public entry point for the CLI:
// import the trusted keys, verify the detached signature over the checksum
// manifest, and record the outcome in the stage checkpoint.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "iso-gpg")

	r, err := newRunner(opts)
	if err != nil {
		return err
	}

	lock := common.NewStageLock(r.cfg.WorkDir, pipeline.StepGPG)
	if err = lock.Acquire(ctx); err != nil {
		return err
	}

	defer lock.Release(ctx)

	if err = r.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Signature stage failed", "error", err)
		return err
	}

	logger.Info(ctx, "Signature stage completed")

	return nil
}

// newRunner loads configuration and wires the stage collaborators.
func newRunner(opts *Options) (*runner, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	actor, err := common.DetectActor()
	if err != nil {
		return nil, err
	}

	keyringPath := filepath.Join(cfg.WorkDir, cfg.KeyringFile)

	return &runner{
		cfg:      cfg,
		repo:     checkpoint.NewFileRepository(cfg.WorkDir),
		keys:     newKeyStore(common.NewClient(cfg.Timeout), cfg.Keyservers, keyringPath),
		hostname: actor.Hostname,
		skip:     opts.SkipGPG,
		force:    opts.Force,
	}, nil
}

// Run verifies the detached signature over the manifest recorded by the
// checksum stage and writes the gpg checkpoint. The artifact records are
// carried forward verbatim; only the verification block is new.
func (r *runner) Run(ctx context.Context) error {
	previous, err := r.loadPrevious(ctx)
	if err != nil {
		return err
	}

	manifestName := recordedManifest(previous)

	result, err := r.verify(ctx, manifestName)
	if err != nil {
		return err
	}

	if err = r.enforce(result, manifestName); err != nil {
		return err
	}

	cp := pipeline.NewCheckpoint(pipeline.StepGPG, previous, r.hostname)
	cp.Verification = &pipeline.Verification{
		GPGVerified:  result.Verified(),
		ChecksumFile: manifestName,
		SigningKey:   result.SigningKey,
		VerifiedAt:   time.Now().UTC(),
	}

	if err = r.repo.Save(ctx, cp); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Checkpoint written", "path", r.repo.Path(pipeline.StepGPG))

	return nil
}

// verify produces the verification result for the recorded manifest,
// honoring the skip request before any keyserver traffic.
func (r *runner) verify(ctx context.Context, manifestName string) (*Result, error) {
	if r.skip {
		logger.Warn(ctx, "Signature verification skipped by request")

		return &Result{Status: StatusSkipped}, nil
	}

	if manifestName == "" {
		if !r.force {
			return nil, fmt.Errorf("no manifest recorded by the checksum stage: %w",
				pipeline.ErrManifestNotFound)
		}

		logger.Warn(ctx, "No manifest recorded by the checksum stage, nothing to verify")

		return &Result{Status: StatusNoSignature}, nil
	}

	_, keyring, err := r.keys.Import(ctx, r.cfg.TrustedKeys)
	if err != nil {
		return nil, err
	}

	result, err := verifyDetached(keyring, filepath.Join(r.cfg.WorkDir, manifestName))
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case StatusVerified:
		logger.InfoKV(ctx, "Signature verified",
			"manifest", manifestName, "signature", result.SignatureFile, "key", result.SigningKey)
	case StatusNoSignature:
		logger.WarnKV(ctx, "No detached signature found", "manifest", manifestName)
	default:
		logger.WarnKV(ctx, "Signature verification failed",
			"manifest", manifestName, "status", string(result.Status), "error", result.Detail)
	}

	return result, nil
}

// enforce translates a failed verification into the stage error unless the
// run was explicitly told to skip or to continue past failures.
func (r *runner) enforce(result *Result, manifestName string) error {
	if result.Verified() || result.Status == StatusSkipped || r.force {
		return nil
	}

	if result.Status == StatusNoSignature {
		return fmt.Errorf("manifest %s has no detached signature: %w",
			manifestName, pipeline.ErrSignatureMissing)
	}

	return fmt.Errorf("manifest %s: %s: %w",
		manifestName, result.Status, pipeline.ErrSignatureInvalid)
}

// loadPrevious consumes the checksum checkpoint, honoring the schema policy:
// a version mismatch aborts unless force is set.
func (r *runner) loadPrevious(ctx context.Context) (*pipeline.Checkpoint, error) {
	previous, err := r.repo.Load(ctx, pipeline.StepChecksum)
	if err != nil {
		if errors.Is(err, pipeline.ErrSchemaVersionMismatch) && r.force {
			logger.WarnKV(ctx, "Proceeding past checkpoint schema mismatch", "error", err)
			return previous, nil
		}

		if errors.Is(err, pipeline.ErrCheckpointNotFound) {
			return nil, fmt.Errorf("run iso-checksum first: %w", err)
		}

		return nil, err
	}

	return previous, nil
}

// recordedManifest returns the manifest name the checksum stage vouched with,
// picking deterministically when several artifacts name one.
func recordedManifest(cp *pipeline.Checkpoint) string {
	names := make([]string, 0, len(cp.Artifacts))
	for name := range cp.Artifacts {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if manifest := cp.Artifacts[name].ChecksumFile; manifest != "" {
			return manifest
		}
	}

	return ""
}
