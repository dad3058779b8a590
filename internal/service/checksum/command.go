package checksum

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/oshokin/iso-verifier/internal/config"
	"github.com/oshokin/iso-verifier/internal/domain/pipeline"
	"github.com/oshokin/iso-verifier/internal/logger"
	"github.com/oshokin/iso-verifier/internal/repository/checkpoint"
	"github.com/oshokin/iso-verifier/internal/service/common"
)

// Options are inputs accepted by the checksum stage entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Force tolerates a missing manifest, recording the artifact as unverified
	// instead of aborting. A digest mismatch is never tolerated.
	Force bool
}

// runner holds the collaborators of a single checksum stage execution.
type runner struct {
	cfg      *config.Config
	repo     checkpoint.Repository
	verifier *verifier
	hostname string
	force    bool
}

// Run executes the checksum stage and is the public entry point for the CLI:
// locate the fetched artifact, verify its digest against the strongest
// available manifest, and record the outcome in the stage checkpoint.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "iso-checksum")

	r, err := newRunner(opts)
	if err != nil {
		return err
	}

	lock := common.NewStageLock(r.cfg.WorkDir, pipeline.StepChecksum)
	if err = lock.Acquire(ctx); err != nil {
		return err
	}

	defer lock.Release(ctx)

	if err = r.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Checksum stage failed", "error", err)
		return err
	}

	logger.Info(ctx, "Checksum stage completed")

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

	return &runner{
		cfg:      cfg,
		repo:     checkpoint.NewFileRepository(cfg.WorkDir),
		verifier: newVerifier(common.NewClient(cfg.Timeout), cfg.WorkDir, cfg.ChecksumManifests),
		hostname: actor.Hostname,
		force:    opts.Force,
	}, nil
}

// Run verifies every artifact recorded by the fetch stage and writes the
// checksum checkpoint only once each verification has a definite result.
func (r *runner) Run(ctx context.Context) error {
	previous, err := r.loadPrevious(ctx)
	if err != nil {
		return err
	}

	cp := pipeline.NewCheckpoint(pipeline.StepChecksum, previous, r.hostname)

	for _, name := range sortedArtifactNames(previous) {
		record, err := r.verifyArtifact(ctx, previous, name)
		if err != nil {
			return err
		}

		cp.PutArtifact(name, record)
	}

	if err = r.repo.Save(ctx, cp); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Checkpoint written", "path", r.repo.Path(pipeline.StepChecksum))

	return nil
}

// loadPrevious consumes the fetch checkpoint, honoring the schema policy:
// a version mismatch aborts unless force is set.
func (r *runner) loadPrevious(ctx context.Context) (*pipeline.Checkpoint, error) {
	previous, err := r.repo.Load(ctx, pipeline.StepFetch)
	if err != nil {
		if errors.Is(err, pipeline.ErrSchemaVersionMismatch) && r.force {
			logger.WarnKV(ctx, "Proceeding past checkpoint schema mismatch", "error", err)
			return previous, nil
		}

		if errors.Is(err, pipeline.ErrCheckpointNotFound) {
			return nil, fmt.Errorf("run iso-fetch first: %w", err)
		}

		return nil, err
	}

	return previous, nil
}

// verifyArtifact produces the updated artifact record for one entry of the
// fetch checkpoint. A digest mismatch is terminal; a missing manifest is
// tolerated only under force and leaves the artifact unverified.
func (r *runner) verifyArtifact(
	ctx context.Context,
	previous *pipeline.Checkpoint,
	name string,
) (*pipeline.Artifact, error) {
	record := previous.Artifact(name).Clone()

	path, err := r.repo.LocateArtifact(previous, name)
	if err != nil {
		return nil, err
	}

	result, err := r.verifier.Verify(ctx, path, record.URL)
	if err != nil {
		return nil, err
	}

	switch result.Reason {
	case ReasonMismatch:
		return nil, fmt.Errorf("artifact %s: manifest %s records %s, local digest is %s: %w",
			name, result.ManifestFile, result.Expected, result.Actual, pipeline.ErrChecksumMismatch)

	case ReasonNotFound:
		if !r.force {
			return nil, fmt.Errorf("artifact %s: %w", name, pipeline.ErrManifestNotFound)
		}

		logger.WarnKV(ctx, "No manifest names the artifact, continuing unverified",
			"artifact", name)

		return record, nil

	default:
		record.Verified = true
		record.ChecksumFile = result.ManifestFile

		switch result.Algorithm {
		case "sha512":
			record.SHA512 = result.Actual
		case "sha256":
			record.SHA256 = result.Actual
		}

		logger.InfoKV(ctx, "Checksum verified",
			"artifact", name, "manifest", result.ManifestFile, "algorithm", result.Algorithm)

		return record, nil
	}
}

// sortedArtifactNames returns the checkpoint's artifact names in stable order.
func sortedArtifactNames(cp *pipeline.Checkpoint) []string {
	names := make([]string, 0, len(cp.Artifacts))
	for name := range cp.Artifacts {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
