// devtoken mints a bearer token signed with the configured key, standing in
// for the identity provider during local development.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"rollbook/internal/auth"
	"rollbook/internal/config"
	"rollbook/internal/model"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg := config.Load()
	var (
		sub, username, name, email, role string
		ttl                              time.Duration
	)
	fs := pflag.NewFlagSet("devtoken", pflag.ContinueOnError)
	fs.StringVar(&sub, "sub", "", "subject (user id) of the principal")
	fs.StringVarP(&username, "username", "u", "", "preferred username (defaults to sub)")
	fs.StringVarP(&name, "name", "n", "", "display name")
	fs.StringVar(&email, "email", "", "email address")
	fs.StringVarP(&role, "role", "r", "student", "admin, class_teacher or student")
	fs.DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if sub == "" {
		return fmt.Errorf("--sub is required")
	}
	r, ok := model.ParseRole(role)
	if !ok {
		return fmt.Errorf("unknown role %q", role)
	}
	if username == "" {
		username = sub
	}
	tok, exp, err := auth.Issue(auth.Principal{ID: sub, Username: username, Name: name, Email: email, Role: r},
		cfg.JWTIssuer, cfg.JWTSigningKey, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
	return nil
}
