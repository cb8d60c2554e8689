// The main package for the showtimes-crawler executable.
package main

import (
	"github.com/JakeFAU/showtimes-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
