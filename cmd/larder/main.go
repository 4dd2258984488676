// Command larder imports JSON into an object-graph store and queries it.
package main

import "github.com/mesh-intelligence/larder/internal/cli"

func main() {
	cli.Execute()
}
