package gpg

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/hashicorp/go-multierror"

	"github.com/oshokin/iso-verifier/internal/domain/pipeline"
	"github.com/oshokin/iso-verifier/internal/logger"
	"github.com/oshokin/iso-verifier/internal/service/common"
)

// localProvider marks keys that were already present in the keyring file.
const localProvider = "local"

// keyringFileMode restricts the on-disk keyring to the owner.
const keyringFileMode os.FileMode = 0o600

// ImportResult records where one trusted key was obtained from.
type ImportResult struct {
	// Fingerprint is the trusted key fingerprint, upper-cased hex.
	Fingerprint string
	// Keyserver is the provider that supplied the key, or "local".
	Keyserver string
}

// keyStore maintains the armored keyring of imported trusted keys and
// imports missing ones from an ordered keyserver list.
type keyStore struct {
	// client issues the bounded keyserver requests.
	client *http.Client
	// keyservers are tried sequentially, first success wins.
	keyservers []string
	// path is the armored keyring file.
	path string
}

// newKeyStore prepares a key store persisting to path.
func newKeyStore(client *http.Client, keyservers []string, path string) *keyStore {
	return &keyStore{
		client:     client,
		keyservers: keyservers,
		path:       path,
	}
}

// Load reads the armored keyring, returning an empty list when absent.
func (s *keyStore) Load() (openpgp.EntityList, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return openpgp.EntityList{}, nil
		}

		return nil, fmt.Errorf("open keyring: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	keyring, err := openpgp.ReadArmoredKeyRing(file)
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}

	return keyring, nil
}

// Import ensures every trusted fingerprint is present in the keyring,
// trying the keyservers in order with first-success semantics per key.
// Import succeeds when at least one key is available; the aggregated
// per-keyserver failures are returned when none is.
func (s *keyStore) Import(ctx context.Context, fingerprints []string) ([]ImportResult, openpgp.EntityList, error) {
	keyring, err := s.Load()
	if err != nil {
		return nil, nil, err
	}

	var (
		results  []ImportResult
		failures error
		dirty    bool
	)

	for _, fingerprint := range fingerprints {
		fingerprint = strings.ToUpper(strings.TrimSpace(fingerprint))

		if hasFingerprint(keyring, fingerprint) {
			results = append(results, ImportResult{Fingerprint: fingerprint, Keyserver: localProvider})
			continue
		}

		imported, err := s.importKey(ctx, &keyring, fingerprint)
		if err != nil {
			failures = multierror.Append(failures, err)
			continue
		}

		results = append(results, *imported)
		dirty = true
	}

	if len(results) == 0 {
		return nil, nil, fmt.Errorf("no trusted keys could be imported: %w: %w",
			pipeline.ErrDependencyMissing, failures)
	}

	if failures != nil {
		logger.WarnKV(ctx, "Some trusted keys could not be imported", "error", failures)
	}

	if dirty {
		if err = s.save(keyring); err != nil {
			return nil, nil, err
		}
	}

	return results, keyring, nil
}

// importKey walks the keyserver list for one fingerprint.
func (s *keyStore) importKey(
	ctx context.Context,
	keyring *openpgp.EntityList,
	fingerprint string,
) (*ImportResult, error) {
	var failures error

	for _, keyserver := range s.keyservers {
		data, err := common.FetchAll(ctx, s.client, hkpLookupURL(keyserver, fingerprint))
		if err != nil {
			failures = multierror.Append(failures, err)
			continue
		}

		entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
		if err != nil {
			failures = multierror.Append(failures,
				fmt.Errorf("%s returned unreadable key material: %w", keyserver, err))

			continue
		}

		entity := findEntity(entities, fingerprint)
		if entity == nil {
			failures = multierror.Append(failures,
				fmt.Errorf("%s returned no key with fingerprint %s", keyserver, fingerprint))

			continue
		}

		*keyring = append(*keyring, entity)

		logger.InfoKV(ctx, "Imported trusted key",
			"fingerprint", fingerprint, "keyserver", keyserver)

		return &ImportResult{Fingerprint: fingerprint, Keyserver: keyserver}, nil
	}

	return nil, fmt.Errorf("key %s: %w", fingerprint, failures)
}

// save writes the keyring atomically in a single armor block.
func (s *keyStore) save(keyring openpgp.EntityList) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp keyring: %w", err)
	}

	err = writeArmoredKeyring(tmp, keyring)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("write keyring: %w", err)
	}

	if err = os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("rename keyring: %w", err)
	}

	if err = os.Chmod(s.path, keyringFileMode); err != nil {
		return fmt.Errorf("chmod keyring: %w", err)
	}

	return nil
}

// writeArmoredKeyring serializes the public parts of every entity.
func writeArmoredKeyring(w *os.File, keyring openpgp.EntityList) error {
	armored, err := armor.Encode(w, openpgp.PublicKeyType, nil)
	if err != nil {
		return err
	}

	for _, entity := range keyring {
		if err = entity.Serialize(armored); err != nil {
			return err
		}
	}

	return armored.Close()
}

// hkpLookupURL composes the HKP machine-readable key lookup URL.
func hkpLookupURL(keyserver, fingerprint string) string {
	base := strings.TrimRight(keyserver, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}

	return base + "/pks/lookup?op=get&options=mr&search=0x" + fingerprint
}

// hasFingerprint reports whether the keyring already holds the key.
func hasFingerprint(keyring openpgp.EntityList, fingerprint string) bool {
	return findEntity(keyring, fingerprint) != nil
}

// findEntity matches a fingerprint (or its key ID suffix) against the list.
func findEntity(entities openpgp.EntityList, fingerprint string) *openpgp.Entity {
	for _, entity := range entities {
		if entity.PrimaryKey == nil {
			continue
		}

		have := fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint)
		if have == fingerprint || strings.HasSuffix(have, fingerprint) || strings.HasSuffix(fingerprint, have) {
			return entity
		}
	}

	return nil
}
