// The main package for the pitchfork crawler executable.
package main

import (
	_ "time/tzdata" // clock.timezone must resolve on hosts without a zoneinfo database

	"github.com/JakeFAU/pitchfork-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
