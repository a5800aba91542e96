package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	rpcEndpoint = defaultRPCEndpoint()
	// FILAMINT_RPC_TOKEN is a bearer token; FILAMINT_CALLER names the caller
	// against a node running without authentication.
	rpcAuthToken = os.Getenv("FILAMINT_RPC_TOKEN")
	devCaller    = os.Getenv("FILAMINT_CALLER")
	txCost       = ""
	outputFormat = "json"
)

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// apiCall is swapped out in tests.
var apiCall = doAPIRequest

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(run(args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "token":
		return runTokenCommand(args[1:], stdout, stderr)
	case "registry":
		return runRegistryCommand(args[1:], stdout, stderr)
	case "order":
		return runOrderCommand(args[1:], stdout, stderr)
	case "escrow":
		return runEscrowCommand(args[1:], stdout, stderr)
	case "balance":
		if len(args) != 2 {
			return printError(stderr, "balance requires an address")
		}
		return get(stdout, stderr, "/v1/accounts/"+args[1])
	case "jobs":
		return runJobsCommand(args[1:], stdout, stderr)
	case "hash":
		return runHashCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  filamint-cli [--rpc URL] [--token JWT | --caller ADDR] [--tx-cost N] [--output json|yaml] <command> [flags]

Commands:
  token     Mint a caller token from the node's JWT secret
  registry  Show or change registry configuration
  order     Create, predict, count and list orders
  escrow    Inspect an escrow or drive it through an action
  balance   Show an account balance
  jobs      List indexed orders by status
  hash      Print the content hash of a print file
`)
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("FILAMINT_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

// applyGlobalFlags strips the flags shared by every command.
func applyGlobalFlags(args []string) ([]string, error) {
	targets := map[string]*string{
		"--rpc":     &rpcEndpoint,
		"--caller":  &devCaller,
		"--tx-cost": &txCost,
		"--token":   &rpcAuthToken,
		"--output":  &outputFormat,
	}
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if name, value, ok := strings.Cut(arg, "="); ok {
			if target, known := targets[name]; known {
				*target = value
				continue
			}
		}
		if target, known := targets[arg]; known {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			*target = args[i+1]
			i++
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func doAPIRequest(method, path string, body interface{}) (json.RawMessage, *apiError, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, strings.TrimRight(rpcEndpoint, "/")+path, reader)
	if err != nil {
		return nil, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(rpcAuthToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if caller := strings.TrimSpace(devCaller); caller != "" {
		req.Header.Set("X-Filamint-Caller", caller)
	}
	if cost := strings.TrimSpace(txCost); cost != "" {
		req.Header.Set("X-Tx-Cost", cost)
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var envelope struct {
			Error *apiError `json:"error"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error == nil {
			return nil, nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return nil, envelope.Error, nil
	}
	return data, nil, nil
}

func call(stdout, stderr io.Writer, method, path string, body interface{}) int {
	result, apiErr, err := apiCall(method, path, body)
	if err != nil {
		fmt.Fprintf(stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if apiErr != nil {
		fmt.Fprintf(stderr, "RPC error %d: %s", apiErr.Code, apiErr.Message)
		if apiErr.Data != "" {
			fmt.Fprintf(stderr, " (%s)", apiErr.Data)
		}
		fmt.Fprintln(stderr)
		return 1
	}
	writeResult(stdout, result)
	return 0
}

func get(stdout, stderr io.Writer, path string) int {
	return call(stdout, stderr, http.MethodGet, path, nil)
}

func writeResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	if strings.EqualFold(strings.TrimSpace(outputFormat), "yaml") {
		var decoded interface{}
		if err := json.Unmarshal(result, &decoded); err == nil {
			if out, err := yaml.Marshal(decoded); err == nil {
				_, _ = w.Write(out)
				return
			}
		}
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		_, _ = w.Write(result)
		return
	}
	fmt.Fprintln(w, strings.TrimRight(pretty.String(), "\n"))
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}
