// The main package for the remotefetch executable.
package main

import (
	"github.com/JakeFAU/remote-fetch/cmd"
)

func main() {
	cmd.Execute()
}
