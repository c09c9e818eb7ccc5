// Command tokengen mints a device token for the authority server. It reads
// the same config file and -s secret flag as the server.
//
//	tokengen -c server.yaml -device ward-7-tablet
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/wardsync/internal/flagx"
	"github.com/dmitrijs2005/wardsync/internal/server/auth"
	"github.com/dmitrijs2005/wardsync/internal/server/config"
)

func main() {
	cfg := config.LoadConfig()

	var deviceID string
	fs := flag.NewFlagSet("tokengen", flag.ExitOnError)
	fs.StringVar(&deviceID, "device", "", "device id to embed in the token")
	if err := fs.Parse(flagx.FilterArgs(os.Args[1:], []string{"-device"})); err != nil {
		log.Fatal(err)
	}
	if deviceID == "" {
		log.Fatal("-device is required")
	}

	tok, err := auth.GenerateToken(deviceID, []byte(cfg.SecretKey), cfg.TokenValidityDuration)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(tok)
}
