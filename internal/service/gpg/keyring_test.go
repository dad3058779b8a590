package gpg

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/iso-verifier/internal/domain/pipeline"
	"github.com/oshokin/iso-verifier/internal/service/common"
)

// keyServer serves the armored key to HKP lookups and counts requests.
func keyServer(t *testing.T, armored []byte, hits *atomic.Int64) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}

		if !strings.HasPrefix(r.URL.Path, "/pks/lookup") {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		_, _ = w.Write(armored)
	}))
	t.Cleanup(srv.Close)

	return srv
}

// TestImport_FromKeyserver imports a missing key, persists the keyring and
// answers subsequent imports locally without further keyserver traffic.
func TestImport_FromKeyserver(t *testing.T) {
	t.Parallel()

	entity := newTestEntity(t)
	fingerprint := fingerprintOf(entity)

	var hits atomic.Int64

	srv := keyServer(t, armoredPublicKey(t, entity), &hits)

	keyringPath := filepath.Join(t.TempDir(), "trusted-keys.asc")
	store := newKeyStore(common.NewClient(5*time.Second), []string{srv.URL}, keyringPath)

	results, keyring, err := store.Import(context.Background(), []string{fingerprint})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, fingerprint, results[0].Fingerprint)
	require.Equal(t, srv.URL, results[0].Keyserver)
	require.Len(t, keyring, 1)
	require.EqualValues(t, 1, hits.Load())

	// The keyring file is owner-only and readable back.
	info, err := os.Stat(keyringPath)
	require.NoError(t, err)
	require.Equal(t, keyringFileMode, info.Mode().Perm())

	results, keyring, err = store.Import(context.Background(), []string{fingerprint})
	require.NoError(t, err)
	require.Equal(t, localProvider, results[0].Keyserver)
	require.Len(t, keyring, 1)
	require.EqualValues(t, 1, hits.Load())
}

// TestImport_FirstSuccessWins walks the keyserver list in order and stops at
// the first provider that delivers the key.
func TestImport_FirstSuccessWins(t *testing.T) {
	t.Parallel()

	entity := newTestEntity(t)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(broken.Close)

	working := keyServer(t, armoredPublicKey(t, entity), nil)

	keyringPath := filepath.Join(t.TempDir(), "trusted-keys.asc")
	store := newKeyStore(common.NewClient(5*time.Second),
		[]string{broken.URL, working.URL}, keyringPath)

	results, _, err := store.Import(context.Background(), []string{fingerprintOf(entity)})
	require.NoError(t, err)
	require.Equal(t, working.URL, results[0].Keyserver)
}

// TestImport_AllProvidersFail reports the dependency as missing when no
// keyserver can deliver any trusted key.
func TestImport_AllProvidersFail(t *testing.T) {
	t.Parallel()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(broken.Close)

	keyringPath := filepath.Join(t.TempDir(), "trusted-keys.asc")
	store := newKeyStore(common.NewClient(5*time.Second), []string{broken.URL}, keyringPath)

	_, _, err := store.Import(context.Background(), []string{"DF9B9C49EAA9298432589D76DA87E80D6294BE9B"})
	require.ErrorIs(t, err, pipeline.ErrDependencyMissing)

	_, err = os.Stat(keyringPath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestImport_PartialSuccess succeeds when at least one key is available and
// keeps the unavailable fingerprint out of the results.
func TestImport_PartialSuccess(t *testing.T) {
	t.Parallel()

	entity := newTestEntity(t)
	srv := keyServer(t, armoredPublicKey(t, entity), nil)

	keyringPath := filepath.Join(t.TempDir(), "trusted-keys.asc")
	store := newKeyStore(common.NewClient(5*time.Second), []string{srv.URL}, keyringPath)

	// The second fingerprint never matches the served key.
	results, keyring, err := store.Import(context.Background(),
		[]string{fingerprintOf(entity), "0000000000000000000000000000000000000000"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, fingerprintOf(entity), results[0].Fingerprint)
	require.Len(t, keyring, 1)
}
