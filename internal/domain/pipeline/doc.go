// Package pipeline contains the core domain types of the verification pipeline.
//
// It defines the Checkpoint state record (with its schema version, artifact
// map and verification block), the Step identifiers of the linear pipeline,
// the monotonic trust rule for the artifact Verified flag, and the error
// taxonomy shared by all stages.
package pipeline
