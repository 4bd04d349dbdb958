package main

import (
	"github.com/ericsoncardosoweb/apollo-ai/cmd"
)

func main() {
	cmd.Execute()
}
