package checksum

import (
	"bufio"
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/iso-verifier/internal/logger"
	"github.com/oshokin/iso-verifier/internal/service/common"
)

// Reason explains a failed verification.
type Reason string

const (
	// ReasonNone accompanies a successful verification.
	ReasonNone Reason = ""
	// ReasonMismatch means the local digest differs from the manifest. Hard failure.
	ReasonMismatch Reason = "mismatch"
	// ReasonNotFound means no manifest names the artifact. Soft failure.
	ReasonNotFound Reason = "not-found"
)

// Result is the three-state outcome of a checksum verification.
type Result struct {
	// Verified reports whether the local digest matched the manifest.
	Verified bool
	// Reason explains a failed verification.
	Reason Reason
	// ManifestFile is the manifest that was consulted.
	ManifestFile string
	// Algorithm is the digest algorithm implied by the manifest name.
	Algorithm string
	// Expected is the lower-cased hex digest the manifest records.
	Expected string
	// Actual is the lower-cased hex digest computed locally.
	Actual string
}

// signatureSuffixes are the detached-signature sibling names tried, in order.
var signatureSuffixes = []string{".sign", ".asc"}

// errUnknownManifestAlgorithm is returned for manifest names that imply no digest.
var errUnknownManifestAlgorithm = errors.New("manifest name implies no known digest algorithm")

// manifestFileMode is applied to downloaded manifests and signatures.
const manifestFileMode os.FileMode = 0o644

// verifier locates a checksum manifest for an artifact, extracts the expected
// digest and compares it with the locally computed one.
type verifier struct {
	// client downloads manifests and their signature siblings.
	client *http.Client
	// workDir is where manifests are cached next to the artifact.
	workDir string
	// manifests lists candidate manifest names in preference order, strongest first.
	manifests []string
}

// newVerifier prepares a verifier using the configured manifest preference order.
func newVerifier(client *http.Client, workDir string, manifests []string) *verifier {
	return &verifier{
		client:    client,
		workDir:   workDir,
		manifests: manifests,
	}
}

// Verify walks the manifest candidates in preference order. A local manifest
// already naming the artifact is reused; otherwise the candidate is
// downloaded from the artifact's URL sibling (its detached signature is
// fetched independently, and only best-effort). Only a digest mismatch is a
// hard outcome; a missing manifest is reported as a soft not-found result.
func (v *verifier) Verify(ctx context.Context, artifactPath, artifactURL string) (*Result, error) {
	base := filepath.Base(artifactPath)

	for _, name := range v.manifests {
		localPath := filepath.Join(v.workDir, name)

		expected, found, err := digestFromManifest(localPath, base)
		if err != nil {
			return nil, err
		}

		if !found {
			if !v.downloadManifest(ctx, artifactURL, name, localPath) {
				continue
			}

			expected, found, err = digestFromManifest(localPath, base)
			if err != nil {
				return nil, err
			}

			if !found {
				logger.DebugKV(ctx, "Manifest has no line for the artifact",
					"manifest", name, "artifact", base)

				continue
			}
		}

		algorithm, err := algorithmForManifest(name)
		if err != nil {
			return nil, err
		}

		actual, err := computeDigest(artifactPath, algorithm)
		if err != nil {
			return nil, err
		}

		result := &Result{
			ManifestFile: name,
			Algorithm:    algorithm,
			Expected:     expected,
			Actual:       actual,
		}

		if expected == actual {
			result.Verified = true
			return result, nil
		}

		result.Reason = ReasonMismatch

		return result, nil
	}

	return &Result{Reason: ReasonNotFound}, nil
}

// downloadManifest fetches a manifest candidate and, independently, its
// detached signature sibling. A failed signature fetch never fails the
// manifest fetch; it only degrades the signature stage later.
func (v *verifier) downloadManifest(ctx context.Context, artifactURL, name, localPath string) bool {
	manifestURL, err := common.SiblingURL(artifactURL, name)
	if err != nil {
		logger.WarnKV(ctx, "Unable to compose manifest URL", "manifest", name, "error", err)
		return false
	}

	data, err := common.FetchAll(ctx, v.client, manifestURL)
	if err != nil {
		logger.DebugKV(ctx, "Manifest not available on the mirror",
			"manifest", name, "error", err)

		return false
	}

	if err = os.WriteFile(localPath, data, manifestFileMode); err != nil {
		logger.WarnKV(ctx, "Unable to store manifest", "manifest", name, "error", err)
		return false
	}

	logger.InfoKV(ctx, "Downloaded manifest", "manifest", name)
	v.downloadSignature(ctx, artifactURL, name)

	return true
}

// downloadSignature tries the signature sibling names in order, first success wins.
func (v *verifier) downloadSignature(ctx context.Context, artifactURL, manifestName string) {
	for _, suffix := range signatureSuffixes {
		sigName := manifestName + suffix
		localPath := filepath.Join(v.workDir, sigName)

		if _, err := os.Stat(localPath); err == nil {
			return
		}

		sigURL, err := common.SiblingURL(artifactURL, sigName)
		if err != nil {
			continue
		}

		data, err := common.FetchAll(ctx, v.client, sigURL)
		if err != nil {
			logger.DebugKV(ctx, "Signature sibling not available",
				"signature", sigName, "error", err)

			continue
		}

		if err = os.WriteFile(localPath, data, manifestFileMode); err != nil {
			logger.WarnKV(ctx, "Unable to store signature", "signature", sigName, "error", err)
			continue
		}

		logger.InfoKV(ctx, "Downloaded detached signature", "signature", sigName)

		return
	}
}

// digestFromManifest scans the manifest for the line whose second field is
// the artifact basename (optionally with the binary-mode "*" prefix) and
// returns the first field as the lower-cased hex digest.
func digestFromManifest(manifestPath, base string) (string, bool, error) {
	file, err := os.Open(manifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("open manifest: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		if fields[1] == base || fields[1] == "*"+base {
			return strings.ToLower(fields[0]), true, nil
		}
	}

	if err = scanner.Err(); err != nil {
		return "", false, fmt.Errorf("scan manifest: %w", err)
	}

	return "", false, nil
}

// algorithmForManifest maps a manifest name to the digest algorithm it implies.
func algorithmForManifest(name string) (string, error) {
	switch {
	case strings.Contains(name, "512"):
		return "sha512", nil
	case strings.Contains(name, "256"):
		return "sha256", nil
	default:
		return "", fmt.Errorf("%s: %w", name, errUnknownManifestAlgorithm)
	}
}

// computeDigest streams the artifact through the implied hash function.
// The artifact is ISO-sized, so it is never read into memory at once.
func computeDigest(path, algorithm string) (string, error) {
	var hasher hash.Hash

	switch algorithm {
	case "sha512":
		hasher = sha512.New()
	case "sha256":
		hasher = sha256.New()
	default:
		return "", fmt.Errorf("%s: %w", algorithm, errUnknownManifestAlgorithm)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	if _, err = io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
