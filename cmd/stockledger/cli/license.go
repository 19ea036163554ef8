package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/odyssey-erp/stockledger/internal/license"
)

// LicenseIssueOptions configures the offline license issuing command.
type LicenseIssueOptions struct {
	Args   []string
	Secret string
	Now    func() time.Time
	Stdout io.Writer
	Stderr io.Writer
}

// IssueLicenseCommand parses flags, signs a token and prints it. It returns the process
// exit code.
func IssueLicenseCommand(opts LicenseIssueOptions) int {
	fs := flag.NewFlagSet("license issue", flag.ContinueOnError)
	fs.SetOutput(opts.Stderr)
	name := fs.String("name", "", "licensee name")
	kind := fs.String("type", "standard", "license type")
	systemID := fs.String("system", "", "installation id the license is locked to")
	days := fs.Int("days", 365, "validity in days")
	if err := fs.Parse(opts.Args); err != nil {
		return 2
	}
	if err := issue(opts, *name, *kind, *systemID, *days); err != nil {
		fmt.Fprintf(opts.Stderr, "license issue: %v\n", err)
		return 1
	}
	return 0
}

func issue(opts LicenseIssueOptions, name, kind, systemID string, days int) error {
	if name == "" || systemID == "" {
		return errors.New("-name and -system are required")
	}
	if days <= 0 {
		return errors.New("-days must be positive")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	gate, err := license.NewGate(nil, license.Config{Secret: []byte(opts.Secret), SystemID: systemID, Now: now})
	if err != nil {
		return err
	}
	token, err := gate.Issue(name, kind, systemID, now().AddDate(0, 0, days))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(opts.Stdout, token)
	return err
}
