// custodiactl mints and checks artifact bindings and inclusion proofs
// offline, and queries a running custodiad for ledger validation.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "mint":
		return runMint(args[2:])
	case "verify-binding":
		return runVerifyBinding(args[2:])
	case "verify-proof":
		return runVerifyProof(args[2:])
	case "validate":
		return runValidate(args[2:])
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "custodiactl"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s mint (--file <path>|--content-hash <hex>) --case <number> --jurisdiction <code> --registration <number> [--bar <number>] [--created-at <rfc3339>] [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s verify-binding --in <binding.json>\n", name)
	fmt.Fprintf(os.Stderr, "  %s verify-proof (--in <proof.json>|--server <url> --content-hash <hex>) [--user-id <id> --registration <number>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s validate --server <url> [--user-id <id> --registration <number>]\n", name)
}

func writeOutput(path string, payload []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(append(payload, '\n'))
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

var (
	passColor = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
)

// printStatus writes one "status=pass|fail" line followed by detail.
func printStatus(ok bool, detail string, args ...any) {
	line := fmt.Sprintf(detail, args...)
	if ok {
		passColor.Printf("status=pass")
	} else {
		failColor.Printf("status=fail")
	}
	fmt.Printf(" %s\n", line)
}
