package fetch

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	goversion "github.com/hashicorp/go-version"

	"github.com/oshokin/iso-verifier/internal/domain/pipeline"
	"github.com/oshokin/iso-verifier/internal/logger"
	"github.com/oshokin/iso-verifier/internal/service/common"
)

// Candidate is the artifact selected from the mirror listing.
type Candidate struct {
	// Filename is the artifact name as published on the mirror.
	Filename string
	// Version is the numeric version extracted from the filename.
	Version string
	// URL is the full download location of the artifact.
	URL string
}

// discoverer resolves the latest artifact from a mirror directory listing.
type discoverer struct {
	// client issues the bounded listing request.
	client *http.Client
	// mirrorURL is the directory listing to scan.
	mirrorURL string
	// pattern matches artifact filenames; group 1 captures the version.
	pattern *regexp.Regexp
}

// newDiscoverer compiles the artifact pattern and prepares the listing scan.
func newDiscoverer(client *http.Client, mirrorURL, pattern string) (*discoverer, error) {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile artifact pattern: %w", err)
	}

	return &discoverer{
		client:    client,
		mirrorURL: mirrorURL,
		pattern:   compiled,
	}, nil
}

// Discover fetches the mirror listing and selects the candidate with the
// highest version using numeric comparison. Read-only.
func (d *discoverer) Discover(ctx context.Context) (*Candidate, error) {
	listing, err := common.FetchAll(ctx, d.client, d.mirrorURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrDiscoveryFailed, err)
	}

	var (
		best        *Candidate
		bestVersion *goversion.Version
		seen        = make(map[string]struct{})
	)

	for _, match := range d.pattern.FindAllStringSubmatch(string(listing), -1) {
		filename := match[0]
		if _, ok := seen[filename]; ok {
			continue
		}

		seen[filename] = struct{}{}

		parsed, err := goversion.NewVersion(match[1])
		if err != nil {
			logger.DebugKV(ctx, "Skipping candidate with unparsable version",
				"filename", filename, "version", match[1])

			continue
		}

		if bestVersion == nil || parsed.GreaterThan(bestVersion) {
			bestVersion = parsed
			best = &Candidate{Filename: filename, Version: match[1]}
		}
	}

	if best == nil {
		return nil, fmt.Errorf("no artifact matching %s at %s: %w",
			d.pattern, d.mirrorURL, pipeline.ErrDiscoveryFailed)
	}

	best.URL, err = common.JoinURL(d.mirrorURL, best.Filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrDiscoveryFailed, err)
	}

	return best, nil
}
