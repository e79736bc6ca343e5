package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/orderlink/realtime-server-go/internal/auth"
	"github.com/orderlink/realtime-server-go/internal/model"
)

func main() {
	role := flag.String("role", string(model.RoleRequester), "requester or agent")
	ttl := flag.Duration("ttl", time.Hour, "credential lifetime")
	issuer := flag.String("issuer", os.Getenv("JWT_ISSUER"), "iss claim")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: JWT_SECRET=... go run scripts/mint-token.go [-role agent] [-ttl 1h] <principal-id>\n")
		os.Exit(1)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintf(os.Stderr, "Error: JWT_SECRET is not set\n")
		os.Exit(1)
	}
	if !model.Role(*role).Valid() {
		fmt.Fprintf(os.Stderr, "Error: unknown role %q\n", *role)
		os.Exit(1)
	}

	token, err := auth.NewAuthenticator(secret, *issuer).Issue(flag.Arg(0), model.Role(*role), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
