// Command matrixgen expands CI job matrices into a pipeline stage graph
package main

import (
	"os"

	"github.com/poltergeist/matrixgen/pkg/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.ExecuteWithVersion(version))
}
