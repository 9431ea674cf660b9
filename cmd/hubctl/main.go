package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"randhub/cmd/internal/passphrase"
)

const (
	defaultEndpoint = "http://127.0.0.1:7090"
	tokenEnv        = "HUB_ADMIN_TOKEN"
	endpointEnv     = "HUB_ENDPOINT"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	endpoint := strings.TrimSpace(os.Getenv(endpointEnv))
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	for len(args) > 0 && strings.HasPrefix(args[0], "--endpoint") {
		if value, ok := strings.CutPrefix(args[0], "--endpoint="); ok {
			endpoint = value
			args = args[1:]
			continue
		}
		if len(args) < 2 {
			fmt.Fprintln(stderr, "--endpoint requires a value")
			return 1
		}
		endpoint = args[1]
		args = args[2:]
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	c := newClient(endpoint, passphrase.NewSource(tokenEnv, "hub admin token"))
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
	if err := cmd.run(c, args[1:], stdout); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func usage() string {
	var b strings.Builder
	b.WriteString("Usage: hubctl [--endpoint URL] <command> [flags]\n\nCommands:\n")
	for _, name := range commandOrder {
		fmt.Fprintf(&b, "  %-14s %s\n", name, commands[name].help)
	}
	b.WriteString("\nThe admin token is read from " + tokenEnv + " or prompted on the terminal.")
	return b.String()
}
