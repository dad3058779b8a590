package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/oshokin/iso-verifier/internal/domain/pipeline"
	"github.com/oshokin/iso-verifier/internal/logger"
	"github.com/oshokin/iso-verifier/internal/service/common"
)

// artifactFileMode is applied to the artifact once the download is complete.
const artifactFileMode os.FileMode = 0o644

// fetcher downloads the artifact atomically and reuses a complete local copy.
type fetcher struct {
	// meta issues bounded metadata requests (HEAD).
	meta *http.Client
	// stream carries the artifact body; only the context bounds it, since a
	// full ISO transfer routinely outlives any sane request timeout.
	stream *http.Client
	// workDir is where the artifact and its temporary sibling are written.
	workDir string
	// showProgress renders a byte progress bar during the transfer.
	showProgress bool
}

// newFetcher prepares a fetcher writing into workDir.
func newFetcher(workDir string, timeout time.Duration, showProgress bool) *fetcher {
	return &fetcher{
		meta:         common.NewClient(timeout),
		stream:       &http.Client{},
		workDir:      workDir,
		showProgress: showProgress,
	}
}

// Fetch ensures a complete artifact at the target name and reports its size
// and whether an existing file was reused. An existing file is trusted only
// when its size equals the authoritative remote size; otherwise it is
// deleted and re-downloaded. The transfer goes to a temporary sibling and is
// renamed into place only after it completes, so a crash mid-download never
// leaves a partial file at the final name.
func (f *fetcher) Fetch(ctx context.Context, rawURL, filename string) (int64, bool, error) {
	target := filepath.Join(f.workDir, filename)

	if info, err := os.Stat(target); err == nil {
		remoteSize, err := common.Head(ctx, f.meta, rawURL)
		if err != nil {
			return 0, false, err
		}

		if remoteSize >= 0 && info.Size() == remoteSize {
			logger.InfoKV(ctx, "Existing artifact matches remote size, skipping download",
				"path", target, "size_bytes", info.Size())

			return info.Size(), true, nil
		}

		logger.WarnKV(ctx, "Existing artifact size differs from remote, re-downloading",
			"path", target, "local_bytes", info.Size(), "remote_bytes", remoteSize)

		if err = os.Remove(target); err != nil {
			return 0, false, fmt.Errorf("remove partial artifact: %w", err)
		}
	}

	size, err := f.download(ctx, rawURL, filename, target)
	if err != nil {
		return 0, false, err
	}

	return size, false, nil
}

// download streams the artifact into a temporary sibling and renames it.
func (f *fetcher) download(ctx context.Context, rawURL, filename, target string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return 0, err
	}

	response, err := f.stream.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", rawURL, pipeline.ErrNetworkFailure, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%s, %s: %w", rawURL, response.Status, pipeline.ErrNetworkFailure)
	}

	tmp, err := os.CreateTemp(f.workDir, filename+".part-*")
	if err != nil {
		return 0, fmt.Errorf("create temp artifact: %w", err)
	}

	bar := progressbar.DefaultBytesSilent(response.ContentLength, "downloading "+filename)
	if f.showProgress {
		bar = progressbar.DefaultBytes(response.ContentLength, "downloading "+filename)
	}

	written, err := io.Copy(io.MultiWriter(tmp, bar), response.Body)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return 0, fmt.Errorf("%s: %w: %w", rawURL, pipeline.ErrNetworkFailure, err)
	}

	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return 0, fmt.Errorf("close temp artifact: %w", err)
	}

	if err = os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())

		return 0, fmt.Errorf("rename artifact: %w", err)
	}

	if err = os.Chmod(target, artifactFileMode); err != nil {
		return 0, fmt.Errorf("chmod artifact: %w", err)
	}

	logger.InfoKV(ctx, "Downloaded artifact", "path", target, "size_bytes", written)

	return written, nil
}
