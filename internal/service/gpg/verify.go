package gpg

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
	pgperrors "github.com/ProtonMail/go-crypto/openpgp/errors"
)

// Status classifies the signature verification outcome.
type Status string

const (
	// StatusVerified means the detached signature checked out against a trusted key.
	StatusVerified Status = "verified"
	// StatusBadSignature means a signature was present but did not match the manifest.
	StatusBadSignature Status = "bad-signature"
	// StatusNoPublicKey means the signer's key is not in the trusted keyring.
	StatusNoPublicKey Status = "no-public-key"
	// StatusNoSignature means no detached signature file exists for the manifest.
	StatusNoSignature Status = "no-signature"
	// StatusSkipped means verification was bypassed by request.
	StatusSkipped Status = "skipped"
	// StatusUnknownFailure covers errors outside the known categories.
	StatusUnknownFailure Status = "unknown-failure"
)

// armorHeader is the prefix of an ASCII-armored signature file.
var armorHeader = []byte("-----BEGIN")

// Result is the outcome of verifying one manifest's detached signature.
type Result struct {
	// Status classifies the outcome.
	Status Status
	// SigningKey is the key ID that produced a good signature.
	SigningKey string
	// SignatureFile is the detached signature that was checked, when present.
	SignatureFile string
	// Detail carries the underlying verification error for logging.
	Detail error
}

// Verified reports whether the signature checked out.
func (r *Result) Verified() bool {
	return r.Status == StatusVerified
}

// signatureSuffixes are the detached signature siblings probed next to a
// manifest, in preference order.
var signatureSuffixes = []string{".sign", ".asc"}

// findSignature returns the first existing detached signature next to the
// manifest, or "" when none exists.
func findSignature(manifestPath string) string {
	for _, suffix := range signatureSuffixes {
		candidate := manifestPath + suffix
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return ""
}

// verifyDetached checks the manifest against its detached signature sibling
// using the trusted keyring. A missing signature file is reported as
// StatusNoSignature without touching the keyring.
func verifyDetached(keyring openpgp.EntityList, manifestPath string) (*Result, error) {
	signaturePath := findSignature(manifestPath)
	if signaturePath == "" {
		return &Result{Status: StatusNoSignature}, nil
	}

	signature, err := os.ReadFile(signaturePath)
	if err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}

	manifest, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}

	defer func() {
		_ = manifest.Close()
	}()

	var signer *openpgp.Entity
	if bytes.HasPrefix(bytes.TrimSpace(signature), armorHeader) {
		signer, err = openpgp.CheckArmoredDetachedSignature(keyring, manifest, bytes.NewReader(signature), nil)
	} else {
		signer, err = openpgp.CheckDetachedSignature(keyring, manifest, bytes.NewReader(signature), nil)
	}

	result := &Result{SignatureFile: filepath.Base(signaturePath)}

	switch {
	case err == nil:
		result.Status = StatusVerified
		if signer != nil && signer.PrimaryKey != nil {
			result.SigningKey = signer.PrimaryKey.KeyIdString()
		}

	case errors.Is(err, pgperrors.ErrUnknownIssuer):
		result.Status = StatusNoPublicKey
		result.Detail = err

	case isSignatureError(err):
		result.Status = StatusBadSignature
		result.Detail = err

	default:
		result.Status = StatusUnknownFailure
		result.Detail = err
	}

	return result, nil
}

// isSignatureError reports whether err is a cryptographic signature failure.
func isSignatureError(err error) bool {
	var sigErr pgperrors.SignatureError

	return errors.As(err, &sigErr)
}
