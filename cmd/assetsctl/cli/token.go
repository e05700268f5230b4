package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-assets/internal/auth"
	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

// TokenOptions defines the flags of the token command.
type TokenOptions struct {
	Secret      string
	Issuer      string
	UserID      int64
	Email       string
	Permissions []string
	TTL         time.Duration
	Stdout      io.Writer
	Stderr      io.Writer
}

// TokenCommand prints a signed bearer token for local testing and operators.
// Permissions default to every asset scope.
func TokenCommand(opts TokenOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.UserID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "token: --user is required and must be positive")
		return 1
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	perms := make([]string, 0, len(opts.Permissions))
	for _, p := range opts.Permissions {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}
	if len(perms) == 0 {
		perms = shared.AssetScopes()
	}
	verifier, err := auth.NewVerifier(opts.Secret, opts.Issuer)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "token: %v\n", err)
		return 1
	}
	token, err := verifier.Issue(opts.UserID, opts.Email, perms, opts.TTL)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "token: sign: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(opts.Stdout, token)
	return 0
}
