// Command cafeauth-admin manages operator accounts in the PostgreSQL
// credential store.
//
//	cafeauth-admin migrate
//	cafeauth-admin create -email owner@cafe.test -name "Olive Owner" -role superadmin
//	cafeauth-admin deactivate -email staff@cafe.test
//	cafeauth-admin activate -email staff@cafe.test
//
// DATABASE_DSN is read from the environment or .env. create prompts for the
// password twice on the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/brewline/cafeauth"
	"github.com/brewline/cafeauth/internal/config"
	"github.com/brewline/cafeauth/password"
	"github.com/brewline/cafeauth/store/postgres"
)

const usage = "usage: cafeauth-admin <migrate|create|activate|deactivate> [flags]"

var hashConfig = password.DefaultConfig()

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "cafeauth-admin: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return errors.New("DATABASE_DSN is required")
	}

	db, err := postgres.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	store := postgres.New(db)

	switch cmd {
	case "migrate":
		// Open already applied pending migrations.
		fmt.Println("migrations applied")
		return nil
	case "create":
		return create(ctx, store, args, terminalPassword)
	case "activate":
		return setStatus(ctx, store, args, cafeauth.StatusActive)
	case "deactivate":
		return setStatus(ctx, store, args, cafeauth.StatusInactive)
	}
	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

type passwordPrompt func() (string, error)

func create(ctx context.Context, store cafeauth.CredentialStore, args []string, prompt passwordPrompt) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	email := fs.String("email", "", "admin email")
	name := fs.String("name", "", "full name")
	role := fs.String("role", string(cafeauth.RoleStaff), "superadmin, manager or staff")
	if err := fs.Parse(args); err != nil {
		return err
	}

	r := cafeauth.Role(strings.ToLower(*role))
	if !r.Valid(cafeauth.PrincipalAdmin) {
		return fmt.Errorf("role %q is not an admin role", *role)
	}
	addr := strings.ToLower(strings.TrimSpace(*email))
	if addr == "" || !strings.Contains(addr, "@") {
		return errors.New("-email is required")
	}
	if strings.TrimSpace(*name) == "" {
		return errors.New("-name is required")
	}

	hasher, err := password.NewArgon2(hashConfig)
	if err != nil {
		return err
	}
	pw, err := prompt()
	if err != nil {
		return err
	}
	if err := hasher.Validate(pw); err != nil {
		return fmt.Errorf("password: %w", err)
	}
	hash, err := hasher.Hash(pw)
	if err != nil {
		return err
	}

	p, err := store.Create(ctx, cafeauth.Principal{
		Type:         cafeauth.PrincipalAdmin,
		Email:        addr,
		FullName:     strings.TrimSpace(*name),
		PasswordHash: hash,
		Role:         r,
		Status:       cafeauth.StatusActive,
	})
	if errors.Is(err, cafeauth.ErrConflict) {
		return fmt.Errorf("an admin with email %s already exists", addr)
	}
	if err != nil {
		return err
	}
	fmt.Printf("created %s %s (%s)\n", p.Role, p.Email, p.ID)
	return nil
}

func setStatus(ctx context.Context, store cafeauth.CredentialStore, args []string, status cafeauth.Status) error {
	fs := flag.NewFlagSet(string(status), flag.ContinueOnError)
	email := fs.String("email", "", "admin email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := store.FindByEmail(ctx, cafeauth.PrincipalAdmin, strings.TrimSpace(*email))
	if errors.Is(err, cafeauth.ErrNotFound) {
		return fmt.Errorf("no admin with email %s", *email)
	}
	if err != nil {
		return err
	}

	upd := cafeauth.PrincipalUpdate{Status: &status}
	if status == cafeauth.StatusInactive {
		upd.ClearRememberedUntil = true
	}
	if err := store.Update(ctx, p.ID, upd); err != nil {
		return err
	}
	fmt.Printf("%s is now %s\n", p.Email, status)
	return nil
}

func terminalPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		b, err := io.ReadAll(io.LimitReader(os.Stdin, 1024))
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(b), "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	fmt.Fprint(os.Stderr, "Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
