package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"randhub/cmd/internal/passphrase"
	"randhub/services/hubd/server"
)

type command struct {
	help string
	run  func(c *client, args []string, stdout io.Writer) error
}

var commandOrder = []string{
	"status", "chains", "add-chain", "remove-chain", "enable-chain", "disable-chain",
	"callers", "authorize", "revoke", "fund", "min-balance", "gas-budget",
	"pending", "retry", "pause", "resume", "refresh-price", "issue-token",
}

var commands = map[string]command{
	"status":        {help: "show counters, solvency and aggregate price", run: runStatus},
	"chains":        {help: "list supported chains", run: runChains},
	"add-chain":     {help: "register or update a remote chain", run: runAddChain},
	"remove-chain":  {help: "remove a remote chain", run: runRemoveChain},
	"enable-chain":  {help: "accept messages from a chain's peer", run: peerToggle(true)},
	"disable-chain": {help: "reject messages from a chain's peer", run: peerToggle(false)},
	"callers":       {help: "list authorized local callers", run: runCallers},
	"authorize":     {help: "authorize a local caller", run: runAuthorize},
	"revoke":        {help: "revoke a local caller", run: runRevoke},
	"fund":          {help: "add to the messaging fee balance", run: runFund},
	"min-balance":   {help: "set the solvency floor", run: runMinBalance},
	"gas-budget":    {help: "set the default destination gas budget", run: runGasBudget},
	"pending":       {help: "list responses waiting for a retry", run: runPending},
	"retry":         {help: "retry a pending response by sequence", run: runRetry},
	"pause":         {help: "stop admitting new requests", run: simpleAdmin("/admin/pause")},
	"resume":        {help: "resume admitting requests", run: simpleAdmin("/admin/resume")},
	"refresh-price": {help: "refresh the local price now", run: simpleAdmin("/admin/prices/refresh")},
	"issue-token":   {help: "sign a provider or caller JWT offline", run: runIssueToken},
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runStatus(c *client, args []string, stdout io.Writer) error {
	var out map[string]any
	if err := c.call(http.MethodGet, "/admin/status", true, nil, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func runChains(c *client, args []string, stdout io.Writer) error {
	var out map[string]any
	if err := c.call(http.MethodGet, "/v1/chains", false, nil, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func runAddChain(c *client, args []string, stdout io.Writer) error {
	fs := newFlagSet("add-chain", stdout)
	id := fs.Uint("id", 0, "messaging endpoint id of the chain")
	name := fs.String("name", "", "display name")
	peer := fs.String("peer", "", "32-byte peer identity (0x-prefixed hex)")
	gas := fs.Uint64("gas", 0, "destination gas budget override")
	disabled := fs.Bool("disabled", false, "register with the peer disabled")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == 0 {
		return errors.New("--id is required")
	}
	peerBytes, err := hexutil.Decode(strings.TrimSpace(*peer))
	if err != nil || len(peerBytes) != common.HashLength {
		return errors.New("--peer must be 32 bytes of 0x-prefixed hex")
	}
	enabled := !*disabled
	body := map[string]any{
		"name":      *name,
		"peer":      common.BytesToHash(peerBytes),
		"gasBudget": *gas,
		"enabled":   enabled,
	}
	var out map[string]any
	if err := c.call(http.MethodPut, fmt.Sprintf("/admin/chains/%d", *id), true, body, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func chainArg(args []string) (uint64, error) {
	if len(args) != 1 {
		return 0, errors.New("expected a chain id")
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid chain id %q", args[0])
	}
	return id, nil
}

func runRemoveChain(c *client, args []string, stdout io.Writer) error {
	id, err := chainArg(args)
	if err != nil {
		return err
	}
	if err := c.call(http.MethodDelete, fmt.Sprintf("/admin/chains/%d", id), true, nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "chain %d removed\n", id)
	return nil
}

func peerToggle(enabled bool) func(*client, []string, io.Writer) error {
	return func(c *client, args []string, stdout io.Writer) error {
		id, err := chainArg(args)
		if err != nil {
			return err
		}
		var out map[string]any
		if err := c.call(http.MethodPut, fmt.Sprintf("/admin/chains/%d/enabled", id), true, map[string]bool{"enabled": enabled}, &out); err != nil {
			return err
		}
		return printJSON(stdout, out)
	}
}

func runCallers(c *client, args []string, stdout io.Writer) error {
	var out map[string]any
	if err := c.call(http.MethodGet, "/admin/callers", true, nil, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func addressArg(fs *flag.FlagSet) (common.Address, error) {
	if fs.NArg() != 1 || !common.IsHexAddress(fs.Arg(0)) {
		return common.Address{}, errors.New("expected a hex caller address")
	}
	return common.HexToAddress(fs.Arg(0)), nil
}

func runAuthorize(c *client, args []string, stdout io.Writer) error {
	fs := newFlagSet("authorize", stdout)
	callback := fs.String("callback", "", "callback URL notified on fulfillment")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := addressArg(fs)
	if err != nil {
		return err
	}
	var out map[string]any
	if err := c.call(http.MethodPut, "/admin/callers/"+addr.Hex(), true, map[string]string{"callbackUrl": *callback}, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func runRevoke(c *client, args []string, stdout io.Writer) error {
	fs := newFlagSet("revoke", stdout)
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := addressArg(fs)
	if err != nil {
		return err
	}
	if err := c.call(http.MethodDelete, "/admin/callers/"+addr.Hex(), true, nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "caller %s revoked\n", addr.Hex())
	return nil
}

func amountArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("expected a decimal amount")
	}
	raw := strings.TrimSpace(args[0])
	if !isDecimal(raw) {
		return "", fmt.Errorf("invalid amount %q", raw)
	}
	return raw, nil
}

func isDecimal(raw string) bool {
	if raw == "" {
		return false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func runFund(c *client, args []string, stdout io.Writer) error {
	amount, err := amountArg(args)
	if err != nil {
		return err
	}
	var out map[string]any
	if err := c.call(http.MethodPost, "/admin/fund", true, map[string]string{"amount": amount}, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func runMinBalance(c *client, args []string, stdout io.Writer) error {
	amount, err := amountArg(args)
	if err != nil {
		return err
	}
	var out map[string]any
	if err := c.call(http.MethodPut, "/admin/params/min-balance", true, map[string]string{"minBalance": amount}, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func runGasBudget(c *client, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("expected a gas budget")
	}
	gas, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || gas == 0 {
		return fmt.Errorf("invalid gas budget %q", args[0])
	}
	var out map[string]any
	if err := c.call(http.MethodPut, "/admin/params/gas-budget", true, map[string]uint64{"gasBudget": gas}, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func runPending(c *client, args []string, stdout io.Writer) error {
	var out map[string]any
	if err := c.call(http.MethodGet, "/v1/pending", false, nil, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func runRetry(c *client, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("expected a sequence number")
	}
	seq, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid sequence %q", args[0])
	}
	var out map[string]any
	if err := c.call(http.MethodPost, fmt.Sprintf("/v1/responses/%d/retry", seq), false, nil, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func simpleAdmin(path string) func(*client, []string, io.Writer) error {
	return func(c *client, args []string, stdout io.Writer) error {
		var out map[string]any
		if err := c.call(http.MethodPost, path, true, nil, &out); err != nil {
			return err
		}
		return printJSON(stdout, out)
	}
}

func runIssueToken(c *client, args []string, stdout io.Writer) error {
	fs := newFlagSet("issue-token", stdout)
	secretEnv := fs.String("secret-env", "HUB_JWT_SECRET", "environment variable holding the signing secret")
	subject := fs.String("subject", "", "token subject (caller address or provider name)")
	issuer := fs.String("issuer", "", "issuer claim")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*subject) == "" {
		return errors.New("--subject is required")
	}
	secret, err := passphrase.NewSource(*secretEnv, "jwt signing secret").Get()
	if err != nil {
		return err
	}
	tok, err := server.IssueToken(secret, *issuer, *subject, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, tok)
	return nil
}
