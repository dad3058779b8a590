package fetch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/oshokin/iso-verifier/internal/config"
	"github.com/oshokin/iso-verifier/internal/domain/pipeline"
	"github.com/oshokin/iso-verifier/internal/logger"
	"github.com/oshokin/iso-verifier/internal/repository/checkpoint"
	"github.com/oshokin/iso-verifier/internal/service/common"
)

// Options are inputs accepted by the fetch stage entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// ShowProgress renders a byte progress bar during the download.
	ShowProgress bool
}

// runner holds the collaborators of a single fetch stage execution.
type runner struct {
	cfg        *config.Config
	repo       checkpoint.Repository
	discoverer *discoverer
	fetcher    *fetcher
	hostname   string
}

// Run executes the fetch stage and is the public entry point for the CLI:
// discover the latest artifact, download it (or reuse a complete local
// copy), and record the outcome in the stage checkpoint.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "iso-fetch")

	r, err := newRunner(opts)
	if err != nil {
		return err
	}

	lock := common.NewStageLock(r.cfg.WorkDir, pipeline.StepFetch)
	if err = lock.Acquire(ctx); err != nil {
		return err
	}

	defer lock.Release(ctx)

	if err = r.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Fetch stage failed", "error", err)
		return err
	}

	logger.Info(ctx, "Fetch stage completed")

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

	d, err := newDiscoverer(common.NewClient(cfg.Timeout), cfg.MirrorURL, cfg.ArtifactPattern)
	if err != nil {
		return nil, err
	}

	return &runner{
		cfg:        cfg,
		repo:       checkpoint.NewFileRepository(cfg.WorkDir),
		discoverer: d,
		fetcher:    newFetcher(cfg.WorkDir, cfg.Timeout, opts.ShowProgress),
		hostname:   actor.Hostname,
	}, nil
}

// Run performs the stage strictly sequentially: discovery, then download,
// then the checkpoint write. The checkpoint is only written once the
// download has a definite result.
func (r *runner) Run(ctx context.Context) error {
	logger.InfoKV(ctx, "Discovering the latest artifact", "mirror", r.cfg.MirrorURL)

	candidate, err := r.discoverer.Discover(ctx)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Selected artifact",
		"filename", candidate.Filename, "version", candidate.Version)

	size, reused, err := r.fetcher.Fetch(ctx, candidate.URL, candidate.Filename)
	if err != nil {
		return err
	}

	return r.saveCheckpoint(ctx, candidate, size, reused)
}

// saveCheckpoint records the stage outcome. When a complete local copy was
// reused, the artifact record from the prior fetch checkpoint is carried
// over so repeated runs differ only in timestamps.
func (r *runner) saveCheckpoint(ctx context.Context, candidate *Candidate, size int64, reused bool) error {
	location, err := filepath.Abs(filepath.Join(r.cfg.WorkDir, candidate.Filename))
	if err != nil {
		return fmt.Errorf("resolve artifact location: %w", err)
	}

	record := &pipeline.Artifact{
		Type:      "iso",
		URL:       candidate.URL,
		Version:   candidate.Version,
		Location:  location,
		SizeBytes: size,
	}

	if reused {
		if previous := r.loadPreviousRecord(ctx, candidate.Filename); previous != nil {
			record = previous
			record.SizeBytes = size
		}
	}

	cp := pipeline.NewCheckpoint(pipeline.StepFetch, nil, r.hostname)
	cp.PutArtifact(candidate.Filename, record)

	if err = r.repo.Save(ctx, cp); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Checkpoint written",
		"path", r.repo.Path(pipeline.StepFetch), "reused", reused)

	return nil
}

// loadPreviousRecord returns the artifact record from an earlier fetch
// checkpoint, if one exists and is readable.
func (r *runner) loadPreviousRecord(ctx context.Context, filename string) *pipeline.Artifact {
	previous, err := r.repo.Load(ctx, pipeline.StepFetch)
	if err != nil {
		if !errors.Is(err, pipeline.ErrCheckpointNotFound) {
			logger.WarnKV(ctx, "Ignoring unreadable prior fetch checkpoint", "error", err)
		}

		return nil
	}

	return previous.Artifact(filename).Clone()
}
