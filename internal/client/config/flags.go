package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   address and port of the wardsync server
//	-d string   local database file
//	-r string   remote kind: grpc or s3
//	-t string   device access token
//	-p string   conflict policy: lww or merge
//	-i int      online check interval (in seconds)
//	-s int      sync interval (in seconds)
//	-e          encrypt payloads at rest
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-r", "-t", "-p", "-i", "-s", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.DataFile, "d", cfg.DataFile, "local database file")
	fs.StringVar(&cfg.Remote, "r", cfg.Remote, "remote authority kind (grpc or s3)")
	fs.StringVar(&cfg.AccessToken, "t", cfg.AccessToken, "device access token")
	fs.StringVar(&cfg.ConflictPolicy, "p", cfg.ConflictPolicy, "conflict policy (lww or merge)")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	syncInterval := fs.Int("s", int(cfg.SyncInterval.Seconds()), "sync interval (in seconds)")
	fs.BoolVar(&cfg.Encrypt, "e", cfg.Encrypt, "encrypt payloads at rest")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
}
