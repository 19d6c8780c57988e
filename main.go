package main

import (
	"github.com/autoglm/autoagent/frontend/cli/cmd"
)

func main() {
	cmd.Execute()
}
