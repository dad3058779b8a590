// Package config defines pipeline settings used by the binaries and provides
// helpers to load, validate and save them in YAML format.
//
// The Config type holds the mirror URL, working directory, artifact naming
// pattern, checksum manifest preference order, keyserver list and trusted
// key fingerprints.
package config
