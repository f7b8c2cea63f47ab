// Command tokengen prints a service token for a trigger dispatcher.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/geocoder89/taskintegrator/internal/auth"
	"github.com/geocoder89/taskintegrator/internal/config"
)

func main() {
	caller := flag.String("caller", "", "dispatcher name recorded in the token")
	role := flag.String("role", auth.RoleDispatcher, "role claim")
	flag.Parse()

	if *caller == "" {
		fmt.Fprintln(os.Stderr, "tokengen: -caller is required")
		os.Exit(2)
	}

	cfg := config.Load()
	tok, err := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL).GenerateServiceToken(*caller, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tokengen:", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
