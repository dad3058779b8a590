// Package rollback undoes one pipeline stage: it walks the stage's
// checkpoint and removes exactly the artifact files it names, the checksum
// manifests with their detached signature siblings, and the checkpoint file
// itself. Imported trust material is kept unless explicitly opted in. One
// mode applies per invocation: remove, dry-run, or per-file confirmation.
package rollback
