package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	domain "github.com/NordCoder/Storefront/internal/domain/session"
	"github.com/NordCoder/Storefront/internal/obs"
	storefront "github.com/NordCoder/Storefront/internal/services/storefront-api"
	"github.com/NordCoder/Storefront/internal/session"
	"github.com/spf13/pflag"
)

var (
	errUsage       = errors.New("usage: storefront-cli [--config file] <login|logout|status|get|post|delete> [args]")
	errMissingPath = errors.New("a request path is required")
	errBadJSON     = errors.New("--data is not valid JSON")
)

// app is everything a command needs once bootstrap is done.
type app struct {
	sess *session.Manager
	auth domain.Authenticator
	api  *storefront.Client
	out  io.Writer
	now  func() time.Time
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.login(ctx, rest)
	case "logout":
		return a.logout(ctx)
	case "status":
		return a.status()
	case "get":
		return a.request(ctx, "GET", rest, false)
	case "post":
		return a.request(ctx, "POST", rest, true)
	case "delete":
		return a.request(ctx, "DELETE", rest, false)
	}
	return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("login requires --email and --password")
	}
	if err := a.sess.Login(ctx, a.auth, *email, *password); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(a.out, "logged in")
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.sess.Logout(ctx, a.auth); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(a.out, "logged out")
	return nil
}

func (a *app) status() error {
	c := a.sess.Credentials()
	_, _ = fmt.Fprintf(a.out, "profile:  %s\n", a.sess.Profile())
	if c.Empty() {
		_, _ = fmt.Fprintln(a.out, "session:  none")
		return nil
	}
	_, _ = fmt.Fprintf(a.out, "access:   %s\n", obs.Fingerprint(c.Access))
	_, _ = fmt.Fprintf(a.out, "refresh:  %s\n", obs.Fingerprint(c.Refresh))

	claims, err := session.Inspect(c.Access)
	if err != nil {
		_, _ = fmt.Fprintln(a.out, "token:    opaque")
		return nil
	}
	if claims.Subject != "" {
		_, _ = fmt.Fprintf(a.out, "subject:  %s\n", claims.Subject)
	}
	if !claims.ExpiresAt.IsZero() {
		state := "valid"
		if claims.Expired(a.now()) {
			state = "expired"
		}
		_, _ = fmt.Fprintf(a.out, "expires:  %s (%s)\n", claims.ExpiresAt.Format(time.RFC3339), state)
	}
	return nil
}

func (a *app) request(ctx context.Context, method string, args []string, withBody bool) error {
	fs := pflag.NewFlagSet(method, pflag.ContinueOnError)
	data := fs.String("data", "", "JSON request body")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errMissingPath
	}

	var in any
	if withBody && *data != "" {
		if !json.Valid([]byte(*data)) {
			return errBadJSON
		}
		in = json.RawMessage(*data)
	}

	var out json.RawMessage
	if err := a.api.Do(ctx, method, fs.Arg(0), in, &out); err != nil {
		return err
	}
	if len(out) == 0 {
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out, "", "  "); err != nil {
		_, _ = a.out.Write(out)
		_, _ = fmt.Fprintln(a.out)
		return nil
	}
	_, _ = fmt.Fprintln(a.out, pretty.String())
	return nil
}
