// Command toollink is a CLI client for the ToolLink portal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/and161185/toollink/internal/config"
	"github.com/and161185/toollink/internal/errs"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const usageText = `toollink CLI
Usage:
  toollink [-backend URL] [-storage DIR] [-debug] <cmd> [args]

Commands:
  version
  login      -email <email> -password <password>
  register   -email <email> -password <password> [-name N] [-phone P] [-company C] [-role R]
  logout
  whoami
  can        -perm <permission> | -roles <r1,r2> | -route </path>
  watch      [-metrics-addr :9090]                 (runs until interrupted)
  inventory  [-add -name N -sku S -qty Q -price P]
  orders     [-approve <id>]
  deliveries
  deliver    -id <id> -status <status> [-note text]
  theme      [light|dark]
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

// run parses global flags, applies them over the environment config and dispatches cmd.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("toollink", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usageText) }
	backendURL := fs.String("backend", "", "backend base url (overrides TOOLLINK_BACKEND_URL)")
	storageDir := fs.String("storage", "", "session storage dir (overrides TOOLLINK_STORAGE_DIR)")
	debug := fs.Bool("debug", false, "development logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return flag.ErrHelp
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *backendURL != "" {
		cfg.BackendURL = *backendURL
	}
	if *storageDir != "" {
		cfg.StorageDir = *storageDir
	}
	if *debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "version":
		fmt.Fprintf(stdout, "toollink %s (%s)\n", version, buildDate)
		return nil
	case "theme":
		return cmdTheme(cfg, rest, stdout)
	}

	handler, ok := commands[cmd]
	if !ok {
		fs.Usage()
		return flag.ErrHelp
	}

	a, err := openApp(cfg, stdout)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.mgr.Initialize(ctx); err != nil {
		return err
	}
	return handler(ctx, a, rest)
}

// describe turns sentinel errors into short user-facing messages.
func describe(err error) string {
	switch {
	case errors.Is(err, errs.ErrNetworkTimeout):
		return "backend did not answer in time: " + err.Error()
	case errors.Is(err, errs.ErrBackendUnreachable):
		return "backend unreachable: " + err.Error()
	case errors.Is(err, errs.ErrAccountLocked):
		return "account locked; use password recovery"
	case errors.Is(err, errs.ErrAccountPendingApproval):
		return "account is awaiting approval"
	case errors.Is(err, errs.ErrUnauthorized):
		return "not logged in (run toollink login)"
	default:
		return err.Error()
	}
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
