package main

import (
	"github.com/oshokin/iso-verifier/cmd/iso-fetch/cmd"
)

func main() {
	cmd.Execute()
}
