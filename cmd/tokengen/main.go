// tokengen mints connection credentials for ops and testing.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/auth"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/config"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/identity"
)

func main() {
	configFlag := flag.String("config", "config.toml", "path to config file")
	userFlag := flag.String("user", "", "user id to bind the credential to")
	nameFlag := flag.String("name", "", "display name (defaults to the user id)")
	avatarFlag := flag.String("avatar", "", "avatar URL")
	flag.Parse()

	if *userFlag == "" {
		fmt.Fprintln(os.Stderr, "error: -user is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	name := *nameFlag
	if name == "" {
		name = *userFlag
	}

	issuer := auth.NewIssuer(cfg.TokenSecret, cfg.TokenTTL.Std())
	token, err := issuer.Issue(identity.Identity{
		ID:          *userFlag,
		DisplayName: name,
		AvatarURL:   *avatarFlag,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
