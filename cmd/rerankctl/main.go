package main

import (
	"os"

	"rerankctl/internal/ctl"
)

func main() {
	os.Exit(ctl.Main())
}
