// Command fgc-token mints an owner API token for a user.
package main

import (
	"fmt"
	"os"

	"fileglancer/config"
	"fileglancer/util"

	flag "github.com/spf13/pflag"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to config.yaml")
	username := flag.StringP("user", "u", "", "user the token is issued to")
	ttl := flag.Duration("ttl", 0, "token lifetime; defaults to auth.token_ttl")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *ttl > 0 {
		cfg.Auth.TokenTTL = *ttl
	}

	token, err := util.NewTokenManager(cfg.Auth).CreateToken(*username)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
