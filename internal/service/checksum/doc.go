// Package checksum implements the second pipeline stage: it locates a
// checksum manifest for the fetched artifact (strongest digest first,
// downloading it from the mirror when absent), compares the locally computed
// digest against the manifest entry, and writes the checksum checkpoint.
package checksum
