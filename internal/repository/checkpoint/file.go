package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oshokin/iso-verifier/internal/domain/pipeline"
)

// Repository defines persistence operations for stage checkpoints.
type Repository interface {
	Load(ctx context.Context, step pipeline.Step) (*pipeline.Checkpoint, error)
	Save(ctx context.Context, cp *pipeline.Checkpoint) error
	Delete(ctx context.Context, step pipeline.Step) (bool, error)
	LocateArtifact(cp *pipeline.Checkpoint, name string) (string, error)
	Path(step pipeline.Step) string
}

// FileRepository persists checkpoints as JSON files in the working directory,
// one per stage, named by the <step>.checkpoint.json convention.
type FileRepository struct {
	// dir is the working directory holding checkpoints and artifacts.
	dir string
	// mu protects concurrent access to the checkpoint files.
	mu sync.Mutex
}

// errNilCheckpoint is returned when Save is called without a checkpoint.
var errNilCheckpoint = errors.New("checkpoint is not set")

// NewFileRepository creates a repository reading and writing checkpoints under dir.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{
		dir: filepath.Clean(dir),
	}
}

// Path returns the on-disk location of a stage's checkpoint.
func (r *FileRepository) Path(step pipeline.Step) string {
	return filepath.Join(r.dir, pipeline.CheckpointFilename(step))
}

// Load reads and validates the checkpoint written by the provided stage.
// A missing file maps to pipeline.ErrCheckpointNotFound. On a schema version
// mismatch the parsed checkpoint is returned together with
// pipeline.ErrSchemaVersionMismatch so the caller can decide how to proceed.
func (r *FileRepository) Load(_ context.Context, step pipeline.Step) (*pipeline.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.Path(step))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stage %s: %w", step, pipeline.ErrCheckpointNotFound)
		}

		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp pipeline.Checkpoint
	if err = json.Unmarshal(contents, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}

	if err = cp.Validate(); err != nil {
		return &cp, err
	}

	return &cp, nil
}

// Save writes the checkpoint atomically: the document goes to a temporary
// sibling first and is renamed into place only once fully written, so a
// crash never leaves a partially-written checkpoint at the final name.
func (r *FileRepository) Save(_ context.Context, cp *pipeline.Checkpoint) error {
	if cp == nil {
		return errNilCheckpoint
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, pipeline.CheckpointFilename(cp.Step)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("write temp checkpoint: %w", err)
	}

	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	if err = os.Rename(tmp.Name(), r.Path(cp.Step)); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("rename checkpoint: %w", err)
	}

	return nil
}

// Delete removes a stage's checkpoint, reporting whether it existed.
func (r *FileRepository) Delete(_ context.Context, step pipeline.Step) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(r.Path(step))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("remove checkpoint: %w", err)
	}

	return true, nil
}

// LocateArtifact resolves an artifact recorded in a checkpoint to an existing
// path, probing the working directory first and then the absolute location
// the checkpoint recorded.
func (r *FileRepository) LocateArtifact(cp *pipeline.Checkpoint, name string) (string, error) {
	artifact := cp.Artifact(name)
	if artifact == nil {
		return "", fmt.Errorf("%s is not recorded in the %s checkpoint: %w",
			name, cp.Step, pipeline.ErrArtifactNotFound)
	}

	candidates := []string{filepath.Join(r.dir, name)}
	if artifact.Location != "" {
		candidates = append(candidates, artifact.Location)
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%s: %w", name, pipeline.ErrArtifactNotFound)
}
