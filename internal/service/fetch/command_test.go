package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/iso-verifier/internal/config"
	"github.com/oshokin/iso-verifier/internal/domain/pipeline"
	"github.com/oshokin/iso-verifier/internal/repository/checkpoint"
)

// newMirror serves a directory listing plus one ISO and counts ISO GETs.
func newMirror(t *testing.T, isoName string, isoContent []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var isoGets atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, isoName) {
			_, _ = w.Write([]byte(`<a href="` + isoName + `">` + isoName + `</a>`))
			return
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(isoContent)))

		if r.Method == http.MethodGet {
			isoGets.Add(1)
			_, _ = w.Write(isoContent)
		}
	}))

	t.Cleanup(srv.Close)

	return srv, &isoGets
}

// writeStageConfig persists a minimal settings file for stage tests.
func writeStageConfig(t *testing.T, dir, mirrorURL string) string {
	t.Helper()

	path := filepath.Join(dir, "settings.yaml")
	cfg := &config.Config{
		MirrorURL: mirrorURL,
		WorkDir:   dir,
	}
	require.NoError(t, config.Save(path, cfg))

	return path
}

// TestRun_WritesCheckpoint runs the whole fetch stage against a fake mirror
// and verifies the resulting checkpoint contents.
func TestRun_WritesCheckpoint(t *testing.T) {
	t.Parallel()

	const isoName = "debian-12.5.0-amd64-netinst.iso"

	content := []byte("iso-image-bytes")
	srv, isoGets := newMirror(t, isoName, content)

	dir := t.TempDir()
	cfgPath := writeStageConfig(t, dir, srv.URL+"/iso-cd/")

	require.NoError(t, Run(context.Background(), &Options{ConfigPath: cfgPath}))
	require.EqualValues(t, 1, isoGets.Load())

	repo := checkpoint.NewFileRepository(dir)

	cp, err := repo.Load(context.Background(), pipeline.StepFetch)
	require.NoError(t, err)
	require.Equal(t, pipeline.StepFetch, cp.Step)
	require.Equal(t, 1, cp.StepNumber)
	require.Empty(t, cp.PreviousStep)

	artifact := cp.Artifact(isoName)
	require.NotNil(t, artifact)
	require.Equal(t, "iso", artifact.Type)
	require.Equal(t, "12.5.0", artifact.Version)
	require.False(t, artifact.Verified)
	require.EqualValues(t, len(content), artifact.SizeBytes)
	require.Equal(t, filepath.Join(dir, isoName), artifact.Location)
}

// TestRun_SecondRunIsIdempotent ensures an unchanged remote causes zero
// transfer bytes and a checkpoint identical in all fields except timestamps.
func TestRun_SecondRunIsIdempotent(t *testing.T) {
	t.Parallel()

	const isoName = "debian-12.5.0-amd64-netinst.iso"

	srv, isoGets := newMirror(t, isoName, []byte("iso-image-bytes"))

	dir := t.TempDir()
	cfgPath := writeStageConfig(t, dir, srv.URL+"/iso-cd/")
	repo := checkpoint.NewFileRepository(dir)

	require.NoError(t, Run(context.Background(), &Options{ConfigPath: cfgPath}))
	first, err := repo.Load(context.Background(), pipeline.StepFetch)
	require.NoError(t, err)

	require.NoError(t, Run(context.Background(), &Options{ConfigPath: cfgPath}))
	second, err := repo.Load(context.Background(), pipeline.StepFetch)
	require.NoError(t, err)

	// No artifact bytes transferred on the second run.
	require.EqualValues(t, 1, isoGets.Load())

	second.CreatedAt = first.CreatedAt
	require.Equal(t, first, second)
}
