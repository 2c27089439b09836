// The main package for the hostinv executable.
package main

import (
	"github.com/JakeFAU/host-inventory/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
