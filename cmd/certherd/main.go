package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/caasmo/certherd"
)

func main() {
	configPath := flag.String("config", "certherd.toml", "path to the TOML configuration file")
	cacheSize := flag.String("cache", "medium", "in-process cache size: small, medium, large, very-large")
	flag.Parse()

	app, srv, err := certherd.New(*configPath,
		certherd.WithCacheRistretto(*cacheSize),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "certherd: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	srv.Run()
}
