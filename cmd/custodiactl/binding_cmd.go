package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/binding"

	"github.com/spf13/pflag"
)

func runMint(args []string) int {
	fs := pflag.NewFlagSet("mint", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var filePath, contentHash, caseNumber, jurisdiction string
	var registration, bar, createdAt, outPath string
	fs.StringVar(&filePath, "file", "", "artifact file to hash")
	fs.StringVar(&contentHash, "content-hash", "", "artifact sha256 hex (instead of --file)")
	fs.StringVar(&caseNumber, "case", "", "case number")
	fs.StringVar(&jurisdiction, "jurisdiction", "", "jurisdiction code")
	fs.StringVar(&registration, "registration", "", "submitter registration number")
	fs.StringVar(&bar, "bar", "", "submitter bar number")
	fs.StringVar(&createdAt, "created-at", "", "creation time (RFC3339, default now)")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if (filePath == "") == (contentHash == "") {
		fmt.Fprintln(os.Stderr, "mint requires exactly one of --file or --content-hash")
		return 1
	}
	req := binding.MintRequest{
		ContentHash:      contentHash,
		CaseNumber:       caseNumber,
		Jurisdiction:     jurisdiction,
		UserRegistration: registration,
		BarNumber:        bar,
		CreatedAt:        time.Now().UTC(),
	}
	if filePath != "" {
		content, err := readInput(filePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read artifact: %v\n", err)
			return 1
		}
		req.Content = content
	}
	if createdAt != "" {
		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse created-at: %v\n", err)
			return 1
		}
		req.CreatedAt = parsed
	}

	id, err := binding.Mint(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint binding: %v\n", err)
		return 1
	}
	payload, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal binding: %v\n", err)
		return 1
	}
	if err := writeOutput(outPath, payload); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		return 1
	}
	return 0
}

func runVerifyBinding(args []string) int {
	fs := pflag.NewFlagSet("verify-binding", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inPath string
	fs.StringVar(&inPath, "in", "", "binding JSON path (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if inPath == "" {
		fmt.Fprintln(os.Stderr, "verify-binding requires --in")
		return 1
	}

	payload, err := readInput(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read binding: %v\n", err)
		return 1
	}
	var id domain.ArtifactBindingIdentifier
	if err := json.Unmarshal(payload, &id); err != nil {
		fmt.Fprintf(os.Stderr, "decode binding: %v\n", err)
		return 1
	}

	ok := binding.Verify(id)
	printStatus(ok, "artifact_id=%s version=%d", id.ArtifactID, id.Version)
	if !ok {
		return 1
	}
	return 0
}
