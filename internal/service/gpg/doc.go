// Package gpg implements the third pipeline stage: it imports the trusted
// signing keys from the configured keyservers into a local armored keyring,
// verifies the detached signature over the checksum manifest, and writes the
// final checkpoint with the verification record.
package gpg
