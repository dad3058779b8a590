package main

import (
	"github.com/oshokin/iso-verifier/cmd/iso-rollback/cmd"
)

func main() {
	cmd.Execute()
}
