package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/jmerrifield20/ResultLedger/pkg/canonical"
	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
	"github.com/jmerrifield20/ResultLedger/pkg/verify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ── canon ────────────────────────────────────────────────────────────────────

var canonCmd = &cobra.Command{
	Use:   "canon <file|->",
	Short: "Print the canonical form of a result payload",
	Long: `canon prints the exact bytes that are hashed for a payload.
A top-level verification_hash field is left out.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(cmd, args[0])
		if err != nil {
			return err
		}
		canon, err := canonical.Encode(payload)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(canon))
		return err
	},
}

// ── hash ─────────────────────────────────────────────────────────────────────

var hashCmd = &cobra.Command{
	Use:   "hash <file|->",
	Short: "Compute the fingerprint of a result payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := hasher()
		if err != nil {
			return err
		}
		payload, err := readPayload(cmd, args[0])
		if err != nil {
			return err
		}
		fp, _, err := fingerprint.Of(payload, h)
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"fingerprint": string(fp),
				"scheme":      fingerprint.Scheme(h),
			})
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), fp)
		return err
	},
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyConcurrency int

// verifyRow holds the outcome of verifying one file.
type verifyRow struct {
	file   string
	result *verify.Result
	err    error
}

var verifyCmd = &cobra.Command{
	Use:   "verify <file> [file] ...",
	Short: "Verify results against the ledger",
	Long: `verify checks each file, a result carrying its own verification_hash,
against the ledger. Hashing happens locally; only the lookup uses the
server. Files are verified concurrently:

  rl verify --ledger http://localhost:8080 out/*.json

The command fails unless every result is a MATCH.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().IntVar(&verifyConcurrency, "concurrency", 8, "maximum concurrent ledger lookups")
}

func runVerify(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rows := make([]verifyRow, len(args))
	var g errgroup.Group
	g.SetLimit(max(verifyConcurrency, 1))
	for i, file := range args {
		g.Go(func() error {
			rows[i].file = file
			payload, err := readPayload(cmd, file)
			if err != nil {
				rows[i].err = err
				return nil
			}
			rows[i].result, rows[i].err = c.VerifyResult(ctx, payload)
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, r := range rows {
		if r.err != nil || r.result.Outcome != verify.Match {
			failed++
		}
	}

	var perr error
	if outFormat == "json" {
		perr = printVerifyJSON(cmd, rows)
	} else {
		perr = printVerifyText(cmd, rows)
	}
	if perr != nil {
		return perr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d results failed verification", failed, len(rows))
	}
	return nil
}

func printVerifyJSON(cmd *cobra.Command, rows []verifyRow) error {
	type jsonRow struct {
		File string `json:"file"`
		*verify.Result
		Error string `json:"error,omitempty"`
	}
	out := make([]jsonRow, len(rows))
	for i, r := range rows {
		out[i] = jsonRow{File: r.file, Result: r.result}
		if r.err != nil {
			out[i].Error = r.err.Error()
		}
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printVerifyText(cmd *cobra.Command, rows []verifyRow) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tOUTCOME\tF_CLIENT\tF_LEDGER\tERROR")
	for _, r := range rows {
		if r.err != nil {
			fmt.Fprintf(w, "%s\tERROR\t\t\t%s\n", r.file, r.err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", r.file, r.result.Outcome, r.result.Client, r.result.Ledger)
	}
	return w.Flush()
}

// ── vectors ──────────────────────────────────────────────────────────────────

var vectorsCmd = &cobra.Command{
	Use:   "vectors",
	Short: "Check this build against the shared canonicalization vectors",
	RunE: func(cmd *cobra.Command, args []string) error {
		vectors, err := canonical.LoadVectors()
		if err != nil {
			return err
		}
		sha := fingerprint.SHA256()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VECTOR\tRESULT\tDETAIL")
		var failed int
		for _, v := range vectors {
			got, err := v.Check()
			switch {
			case err != nil:
				failed++
				fmt.Fprintf(w, "%s\tFAIL\t%v\n", v.Name, err)
			case string(sha.Sum(got)) != v.SHA256:
				failed++
				fmt.Fprintf(w, "%s\tFAIL\tsha256 %s, want %s\n", v.Name, sha.Sum(got), v.SHA256)
			default:
				fmt.Fprintf(w, "%s\tok\t\n", v.Name)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d vectors failed", failed, len(vectors))
		}
		return nil
	},
}
