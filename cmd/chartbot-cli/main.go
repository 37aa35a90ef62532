package main

import (
	"os"

	"github.com/malbeclabs/chartbot/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
