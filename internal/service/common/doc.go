// Package common holds helpers shared by several stage services.
//
// It provides system actor detection (hostname/username) for checkpoint
// provenance, an advisory per-stage lock file with stale-holder recovery,
// and HTTP helpers with bounded retry for metadata-sized fetches.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
