package config

import (
	"flag"
	"os"

	"github.com/mindwtr/mindwtr/internal/flagx"
)

// parseFlags overrides selected Config fields from the command line.
//
//	-d string   data directory
//	-s string   store backend (sqlite|json)
//	-b string   sync backend (file|webdav|cloud)
//	-p string   sync path (file backend)
//
// Only these flags are parsed here; flagx.FilterArgs keeps the flag set from
// choking on arguments owned by other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-s", "-b", "-p"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.StoreBackend, "s", cfg.StoreBackend, "store backend (sqlite|json)")
	fs.StringVar(&cfg.SyncBackend, "b", cfg.SyncBackend, "sync backend (file|webdav|cloud)")
	fs.StringVar(&cfg.SyncPath, "p", cfg.SyncPath, "sync directory for the file backend")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
