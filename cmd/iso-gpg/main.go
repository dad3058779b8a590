package main

import (
	"github.com/oshokin/iso-verifier/cmd/iso-gpg/cmd"
)

func main() {
	cmd.Execute()
}
