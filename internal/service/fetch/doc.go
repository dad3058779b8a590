// Package fetch implements the first pipeline stage: it discovers the
// latest artifact on the mirror, downloads it atomically (reusing a complete
// local copy when the size matches the remote), and writes the fetch
// checkpoint consumed by the checksum stage.
package fetch
