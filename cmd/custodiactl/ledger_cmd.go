package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/crypto"

	"github.com/spf13/pflag"
)

type serverFlags struct {
	server       string
	userID       string
	registration string
	timeout      time.Duration
}

func (f *serverFlags) add(fs *pflag.FlagSet) {
	fs.StringVar(&f.server, "server", "", "custodiad base URL")
	fs.StringVar(&f.userID, "user-id", "custodiactl", "X-User-Id header")
	fs.StringVar(&f.registration, "registration", "", "X-User-Registration header")
	fs.DurationVar(&f.timeout, "timeout", 10*time.Second, "request timeout")
}

// get decodes a JSON response from the server into out. Non-2xx responses
// are returned as errors carrying the body.
func (f *serverFlags) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(f.server, "/")+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-User-Id", f.userID)
	if f.registration != "" {
		req.Header.Set("X-User-Registration", f.registration)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func runVerifyProof(args []string) int {
	fs := pflag.NewFlagSet("verify-proof", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inPath, contentHash string
	var srv serverFlags
	fs.StringVar(&inPath, "in", "", "inclusion proof JSON path (- for stdin)")
	fs.StringVar(&contentHash, "content-hash", "", "transaction content hash to fetch a proof for")
	srv.add(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var proof domain.InclusionProof
	switch {
	case inPath != "":
		payload, err := readInput(inPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read proof: %v\n", err)
			return 1
		}
		if err := json.Unmarshal(payload, &proof); err != nil {
			fmt.Fprintf(os.Stderr, "decode proof: %v\n", err)
			return 1
		}
	case srv.server != "" && contentHash != "":
		path := "/v1/transactions/" + url.PathEscape(strings.ToLower(contentHash)) + "/proof"
		if err := srv.get(context.Background(), path, &proof); err != nil {
			fmt.Fprintf(os.Stderr, "fetch proof: %v\n", err)
			return 1
		}
	default:
		fmt.Fprintln(os.Stderr, "verify-proof requires --in, or --server with --content-hash")
		return 1
	}

	if contentHash != "" && !strings.EqualFold(proof.ContentHash, contentHash) {
		fmt.Fprintf(os.Stderr, "proof is for %s, not %s\n", proof.ContentHash, contentHash)
		return 1
	}
	ok := crypto.VerifyInclusion(proof)
	printStatus(ok, "content_hash=%s height=%d index=%d merkle_root=%s",
		proof.ContentHash, proof.Height, proof.Index, proof.MerkleRoot)
	if !ok {
		return 1
	}
	return 0
}

func runValidate(args []string) int {
	fs := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var srv serverFlags
	srv.add(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if srv.server == "" {
		fmt.Fprintln(os.Stderr, "validate requires --server")
		return 1
	}

	var out domain.ChainValidation
	if err := srv.get(context.Background(), "/v1/ledger/validate", &out); err != nil {
		fmt.Fprintf(os.Stderr, "validate ledger: %v\n", err)
		return 1
	}
	if out.Valid {
		printStatus(true, "height=%d", out.Height)
		return 0
	}
	first := int64(-1)
	if out.FirstInvalidHeight != nil {
		first = *out.FirstInvalidHeight
	}
	printStatus(false, "height=%d first_invalid_height=%d reason=%q", out.Height, first, out.Reason)
	return 1
}
