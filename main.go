package main

import (
	"github.com/flaviokalleu/whaticket/cmd"
)

func main() {
	cmd.Execute()
}
