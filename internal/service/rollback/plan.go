package rollback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/oshokin/iso-verifier/internal/config"
	"github.com/oshokin/iso-verifier/internal/domain/pipeline"
	"github.com/oshokin/iso-verifier/internal/logger"
	"github.com/oshokin/iso-verifier/internal/repository/checkpoint"
)

// Mode selects how the rollback treats each present candidate file.
// Exactly one mode applies to a whole invocation, never mixed per file.
type Mode int

const (
	// ModeInteractive asks for confirmation before each removal.
	ModeInteractive Mode = iota
	// ModeForce removes without asking.
	ModeForce
	// ModeDryRun reports what would be removed without touching anything.
	ModeDryRun
)

// Stats summarizes one rollback execution. In a dry run Removed counts the
// files that would be removed.
type Stats struct {
	// Removed is the number of files deleted.
	Removed int
	// Skipped is the number of removals declined interactively.
	Skipped int
	// Failed is the number of deletions that errored.
	Failed int
	// NotFound is the number of planned files that were already absent.
	NotFound int
}

// planner computes and executes the exact file set a stage rollback touches.
type planner struct {
	cfg        *config.Config
	repo       checkpoint.Repository
	removeKeys bool
	confirm    func(path string) (bool, error)
}

// newPlanner wires a planner for the configured working directory.
func newPlanner(cfg *config.Config, repo checkpoint.Repository, removeKeys bool) *planner {
	return &planner{
		cfg:        cfg,
		repo:       repo,
		removeKeys: removeKeys,
	}
}

// candidates walks the stage's checkpoint to list everything the rollback
// removes: the artifact files it names, the manifests and their detached
// signature siblings, the keyring only under the explicit opt-in, and the
// checkpoint file itself last.
func (p *planner) candidates(ctx context.Context, step pipeline.Step) []string {
	paths := p.artifactPaths(ctx, step)

	for _, manifest := range p.cfg.ChecksumManifests {
		base := filepath.Join(p.cfg.WorkDir, manifest)
		paths = append(paths, base, base+".sign", base+".asc")
	}

	// Imported keys outlive a single pipeline run; removal is opt-in.
	if p.removeKeys {
		paths = append(paths, filepath.Join(p.cfg.WorkDir, p.cfg.KeyringFile))
	}

	return append(paths, p.repo.Path(step))
}

// artifactPaths lists the files recorded by the stage's checkpoint.
func (p *planner) artifactPaths(ctx context.Context, step pipeline.Step) []string {
	cp, err := p.repo.Load(ctx, step)
	if err != nil && !errors.Is(err, pipeline.ErrSchemaVersionMismatch) {
		// A missing or unreadable checkpoint leaves no artifacts to locate;
		// the checkpoint file itself is still covered by the plan.
		if !errors.Is(err, pipeline.ErrCheckpointNotFound) {
			logger.WarnKV(ctx, "Checkpoint unreadable, skipping artifact removal",
				"step", string(step), "error", err)
		}

		return nil
	}

	names := make([]string, 0, len(cp.Artifacts))
	for name := range cp.Artifacts {
		names = append(names, name)
	}

	sort.Strings(names)

	paths := make([]string, 0, len(names))

	for _, name := range names {
		path := cp.Artifacts[name].Location
		if path == "" {
			path = filepath.Join(p.cfg.WorkDir, name)
		}

		paths = append(paths, path)
	}

	return paths
}

// Execute applies the selected mode to every candidate. Absent files are
// counted, not errors; removal failures are aggregated and reported
// together instead of short-circuiting the walk.
func (p *planner) Execute(ctx context.Context, step pipeline.Step, mode Mode) (*Stats, error) {
	var (
		stats    Stats
		failures error
	)

	for _, path := range p.candidates(ctx, step) {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				stats.NotFound++
				continue
			}

			stats.Failed++
			failures = multierror.Append(failures, fmt.Errorf("stat %s: %w", path, err))

			continue
		}

		if mode == ModeDryRun {
			stats.Removed++

			logger.InfoKV(ctx, "Would remove", "path", path)

			continue
		}

		if mode == ModeInteractive {
			ok, err := p.confirm(path)
			if err != nil {
				return &stats, fmt.Errorf("read confirmation: %w", err)
			}

			if !ok {
				stats.Skipped++

				logger.InfoKV(ctx, "Skipped", "path", path)

				continue
			}
		}

		if err := os.Remove(path); err != nil {
			stats.Failed++
			failures = multierror.Append(failures, fmt.Errorf("remove %s: %w", path, err))

			continue
		}

		stats.Removed++

		logger.InfoKV(ctx, "Removed", "path", path)
	}

	return &stats, failures
}
