package main

import (
	"github.com/hookbus/hookbus/cmd"
)

func main() {
	cmd.Execute()
}
