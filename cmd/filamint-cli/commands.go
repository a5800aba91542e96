package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"filamint/cmd/internal/secret"
	"filamint/core"
	"filamint/crypto"
	"filamint/rpc"
)

var secretSource = func() *secret.Source {
	return secret.NewSource("FILAMINT_JWT_SECRET", "JWT secret: ")
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runTokenCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	var (
		secret string
		issuer string
		caller string
		ttl    time.Duration
	)
	fs.StringVar(&secret, "secret", "", "HS256 secret shared with the node (default $FILAMINT_JWT_SECRET or prompt)")
	fs.StringVar(&issuer, "issuer", "filamint", "token issuer")
	fs.StringVar(&caller, "caller", "", "caller address the token speaks for")
	fs.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if caller == "" {
		return printError(stderr, "--caller is required")
	}
	addr, err := crypto.ParseAddress(caller)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if ttl <= 0 {
		return printError(stderr, "--ttl must be positive")
	}
	if secret == "" {
		secret, err = secretSource().Get()
		if err != nil {
			return printError(stderr, err.Error())
		}
	}
	token, err := rpc.IssueToken(secret, issuer, addr, ttl)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func runRegistryCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "get" {
		return get(stdout, stderr, "/v1/registry")
	}
	if args[0] != "set" {
		return printError(stderr, fmt.Sprintf("unknown registry subcommand %q", args[0]))
	}
	if len(args) < 2 {
		return printError(stderr, "registry set requires a setting")
	}
	setting, err := core.ParseRegistrySetting(args[1])
	if err != nil {
		return printError(stderr, err.Error())
	}
	fs := newFlagSet("registry set", stderr)
	value := fs.String("value", "", "new value; an address, or an amount for min-order")
	if err := fs.Parse(args[2:]); err != nil {
		return 1
	}
	if *value == "" && setting != core.RegistrySettingShippingOracle {
		return printError(stderr, "--value is required")
	}
	return call(stdout, stderr, http.MethodPut, "/v1/registry/"+string(setting), map[string]string{"value": *value})
}

func runOrderCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return printError(stderr, "order requires a subcommand: create, predict, count or list")
	}
	switch args[0] {
	case "create":
		fs := newFlagSet("order create", stderr)
		contentHash := fs.String("content-hash", "", "0x-prefixed 32-byte hash of the print file")
		file := fs.String("file", "", "print file to hash instead of --content-hash")
		deposit := fs.String("deposit", "", "deposit in base units")
		salt := fs.String("salt", "", "optional 32-byte salt for a predictable escrow address")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		if *contentHash == "" && *file != "" {
			digest, err := contentHashOf(*file)
			if err != nil {
				return printError(stderr, err.Error())
			}
			*contentHash = digest
		}
		if *contentHash == "" {
			return printError(stderr, "--content-hash is required")
		}
		if *deposit == "" {
			return printError(stderr, "--deposit is required")
		}
		body := map[string]string{"contentHash": *contentHash, "deposit": normalizeAmount(*deposit)}
		if *salt != "" {
			body["salt"] = *salt
		}
		return call(stdout, stderr, http.MethodPost, "/v1/orders", body)
	case "predict":
		if len(args) != 2 {
			return printError(stderr, "order predict requires a salt")
		}
		return get(stdout, stderr, "/v1/orders/predict/"+url.PathEscape(args[1]))
	case "count":
		return get(stdout, stderr, "/v1/orders/count")
	case "list":
		fs := newFlagSet("order list", stderr)
		offset := fs.Uint64("offset", 0, "first order id")
		limit := fs.Uint64("limit", 50, "page size")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		return get(stdout, stderr, fmt.Sprintf("/v1/orders?offset=%d&limit=%d", *offset, *limit))
	default:
		return printError(stderr, fmt.Sprintf("unknown order subcommand %q", args[0]))
	}
}

// runEscrowCommand handles reads (get, time, history) and every lifecycle
// action, e.g. "escrow offer <addr> --percent 60".
func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return printError(stderr, "usage: escrow <get|time|history|action> <address> [flags]")
	}
	sub, addr := args[0], args[1]
	if _, err := crypto.ParseAddress(addr); err != nil {
		return printError(stderr, err.Error())
	}
	base := "/v1/escrows/" + addr
	switch sub {
	case "get":
		return get(stdout, stderr, base)
	case "time":
		return get(stdout, stderr, base+"/time-remaining")
	case "history":
		fs := newFlagSet("escrow history", stderr)
		limit := fs.Int("limit", 0, "maximum events, 0 for the server default")
		if err := fs.Parse(args[2:]); err != nil {
			return 1
		}
		path := base + "/history"
		if *limit > 0 {
			path += "?limit=" + strconv.Itoa(*limit)
		}
		return get(stdout, stderr, path)
	}

	action, err := core.ParseAction(sub)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fs := newFlagSet("escrow "+sub, stderr)
	percent := fs.Int("percent", -1, "buyer share of the order amount, 0-100")
	if err := fs.Parse(args[2:]); err != nil {
		return 1
	}
	var body interface{}
	if action.TakesPercent() {
		if *percent < 0 || *percent > 100 {
			return printError(stderr, "--percent must be between 0 and 100")
		}
		body = map[string]int{"percent": *percent}
	}
	return call(stdout, stderr, http.MethodPost, base+"/"+string(action), body)
}

func runJobsCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("jobs", stderr)
	status := fs.String("status", "pending", "escrow status to list")
	limit := fs.Int("limit", 0, "maximum rows, 0 for the server default")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	query := url.Values{}
	query.Set("status", *status)
	if *limit > 0 {
		query.Set("limit", strconv.Itoa(*limit))
	}
	return get(stdout, stderr, "/v1/jobs?"+query.Encode())
}

func runHashCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		return printError(stderr, "hash requires a file")
	}
	digest, err := contentHashOf(args[0])
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, digest)
	return 0
}

// contentHashOf is the BLAKE3-256 digest of a print file, 0x-prefixed.
func contentHashOf(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}

// normalizeAmount accepts 1_000_000 style grouping.
func normalizeAmount(value string) string {
	return strings.ReplaceAll(strings.TrimSpace(value), "_", "")
}
