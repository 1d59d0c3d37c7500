package main

import (
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"cycledrop/config"
	"cycledrop/native/distributor"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "tree":
		err = runTree(os.Args[2:])
	case "set-root":
		err = runSetRoot(os.Args[2:])
	case "claim":
		err = runClaim(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dropctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: dropctl <command> [flags]

Commands:
  tree      build the allocation tree for a cycle and print root + proofs
  set-root  commit a cycle root on a running dropd (requires DROP_RPC_TOKEN)
  claim     submit a claim against a running dropd
  status    print the program status of a running dropd`)
}

type proofEntry struct {
	Recipient string   `json:"recipient"`
	Amount    string   `json:"amount"`
	Proof     []string `json:"proof"`
}

type treeOutput struct {
	Root    string       `json:"root"`
	Entries []proofEntry `json:"entries"`
}

// runTree reads an allocation table CSV (recipient,amount per line) and
// prints the cycle root along with each recipient's inclusion proof.
func runTree(args []string) error {
	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	csvPath := fs.String("csv", "", "Path to the allocation CSV (recipient,amount)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *csvPath == "" {
		return fmt.Errorf("-csv is required")
	}
	f, err := os.Open(*csvPath)
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("read allocations: %w", err)
	}
	allocs := make([]distributor.Allocation, 0, len(records))
	for i, record := range records {
		if len(record) != 2 {
			return fmt.Errorf("line %d: expected recipient,amount", i+1)
		}
		recipient, err := config.ParseAddress(record[0])
		if err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		amount, err := config.ParseAmount(record[1])
		if err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		allocs = append(allocs, distributor.Allocation{Recipient: recipient, Amount: amount})
	}

	tree, err := distributor.NewAllocationTree(allocs)
	if err != nil {
		return err
	}
	root := tree.Root()
	out := treeOutput{Root: "0x" + hex.EncodeToString(root[:])}
	for _, alloc := range allocs {
		proof, err := tree.Prove(alloc.Recipient, alloc.Amount)
		if err != nil {
			return err
		}
		entry := proofEntry{
			Recipient: "0x" + hex.EncodeToString(alloc.Recipient[:]),
			Amount:    alloc.Amount.String(),
			Proof:     encodeProof(proof),
		}
		out.Entries = append(out.Entries, entry)
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func encodeProof(proof [][32]byte) []string {
	encoded := make([]string, 0, len(proof))
	for _, digest := range proof {
		encoded = append(encoded, "0x"+hex.EncodeToString(digest[:]))
	}
	return encoded
}

func runSetRoot(args []string) error {
	fs := flag.NewFlagSet("set-root", flag.ExitOnError)
	rpcURL := fs.String("rpc", "http://127.0.0.1:8645", "dropd RPC endpoint")
	caller := fs.String("caller", "", "Root authority address")
	cycle := fs.Uint64("cycle", 0, "Cycle index")
	root := fs.String("root", "", "Cycle root digest (0x hex)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	params := map[string]interface{}{"caller": *caller, "cycle": *cycle, "root": *root}
	return call(*rpcURL, "distributor_setMerkleRoot", params, os.Getenv("DROP_RPC_TOKEN"))
}

func runClaim(args []string) error {
	fs := flag.NewFlagSet("claim", flag.ExitOnError)
	rpcURL := fs.String("rpc", "http://127.0.0.1:8645", "dropd RPC endpoint")
	caller := fs.String("caller", "", "Recipient address")
	cycle := fs.Uint64("cycle", 0, "Cycle index")
	amount := fs.String("amount", "", "Claim amount in base units")
	proof := fs.String("proof", "", "Comma-separated proof digests (0x hex)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	elements := []string{}
	if trimmed := strings.TrimSpace(*proof); trimmed != "" {
		elements = strings.Split(trimmed, ",")
	}
	params := map[string]interface{}{
		"caller": *caller,
		"cycle":  *cycle,
		"amount": *amount,
		"proof":  elements,
	}
	return call(*rpcURL, "distributor_claim", params, "")
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	rpcURL := fs.String("rpc", "http://127.0.0.1:8645", "dropd RPC endpoint")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return call(*rpcURL, "distributor_status", map[string]interface{}{}, "")
}

// call performs a single JSON-RPC invocation and prints the raw response.
func call(url, method string, params map[string]interface{}, token string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []interface{}{params},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var pretty bytes.Buffer
	decoder := json.NewDecoder(resp.Body)
	var raw json.RawMessage
	if err := decoder.Decode(&raw); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return err
	}
	fmt.Println(pretty.String())
	return nil
}
