package main

import (
	"os"

	"github.com/sahib/gcma/cmd"
)

func main() {
	os.Exit(cmd.RunCmdline(os.Args))
}
