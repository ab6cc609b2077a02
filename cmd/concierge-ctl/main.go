package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	appconfig "github.com/wolfman30/commerce-concierge/internal/config"
)

func main() {
	_ = godotenv.Load()
	root := newRootCmd(defaultEnv(appconfig.Load(), os.Stdout))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
