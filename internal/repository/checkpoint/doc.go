// Package checkpoint implements persistence for stage Checkpoints.
//
// The FileRepository stores one JSON document per stage in the working
// directory, written atomically via a temporary sibling and rename, and
// exposes a Repository interface that the stage services depend on.
package checkpoint
