package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/odyssey-erp/odyssey-assets/cmd/assetsctl/cli"
	"github.com/odyssey-erp/odyssey-assets/internal/app"
	"github.com/odyssey-erp/odyssey-assets/jobs"
)

const usage = `usage: assetsctl <command> [flags]

commands:
  refresh   enqueue a depreciation refresh (--asset for a single asset)
  queue     print default queue statistics as JSON
  token     print a signed bearer token (--user, --perms, --ttl)
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	switch args[0] {
	case "refresh":
		fs := flag.NewFlagSet("refresh", flag.ContinueOnError)
		fs.SetOutput(stderr)
		assetID := fs.Int64("asset", 0, "asset id; zero refreshes every depreciable asset")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		jc := cli.NewJobsCLI(cfg.RedisAddr)
		defer jc.Close()
		info, err := jc.Trigger(ctx, jobs.TaskDepreciationRefresh, *assetID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "refresh: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	case "queue":
		jc := cli.NewJobsCLI(cfg.RedisAddr)
		defer jc.Close()
		stats, err := jc.InspectQueue()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "queue: %v\n", err)
			return 1
		}
		_ = json.NewEncoder(stdout).Encode(stats)
		return 0
	case "token":
		fs := flag.NewFlagSet("token", flag.ContinueOnError)
		fs.SetOutput(stderr)
		userID := fs.Int64("user", 0, "user id placed in the subject claim")
		email := fs.String("email", "", "optional e-mail claim")
		perms := fs.String("perms", "", "comma separated permissions; default all asset scopes")
		ttl := fs.Duration("ttl", time.Hour, "token lifetime")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		var list []string
		if *perms != "" {
			list = strings.Split(*perms, ",")
		}
		return cli.TokenCommand(cli.TokenOptions{
			Secret:      cfg.JWTSecret,
			Issuer:      cfg.JWTIssuer,
			UserID:      *userID,
			Email:       *email,
			Permissions: list,
			TTL:         *ttl,
			Stdout:      stdout,
			Stderr:      stderr,
		})
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
		return 2
	}
}
