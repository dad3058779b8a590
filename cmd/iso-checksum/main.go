package main

import (
	"github.com/oshokin/iso-verifier/cmd/iso-checksum/cmd"
)

func main() {
	cmd.Execute()
}
