package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pgvolve/pgvolve/internal/cli"
	"github.com/pgvolve/pgvolve/internal/pverr"
)

// formatError renders an error for the terminal, styling the error code
// when one is present.
func formatError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if code := pverr.GetErrorCode(err); code != "" {
		tag := fmt.Sprintf("[%s]", code)
		if strings.HasPrefix(msg, tag) {
			msg = strings.TrimSpace(strings.TrimPrefix(msg, tag))
		}
		return fmt.Sprintf("%s %s %s", cli.Error("error"), cli.Code(string(code)), msg)
	}
	return fmt.Sprintf("%s %s", cli.Error("error"), msg)
}

// fail prints the error and exits non-zero. Deployment tooling treats any
// non-zero exit as "schema is not current".
func fail(err error) {
	fmt.Fprintln(os.Stderr, formatError(err))
	os.Exit(1)
}

// mustConfig loads configuration or exits.
func mustConfig() *Config {
	cfg, err := loadConfig()
	if err != nil {
		fail(err)
	}
	return cfg
}
