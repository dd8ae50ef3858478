package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jmerrifield20/ResultLedger/internal/auth"
	"github.com/jmerrifield20/ResultLedger/pkg/canonical"
	"github.com/jmerrifield20/ResultLedger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ── lookup ───────────────────────────────────────────────────────────────────

var lookupCmd = &cobra.Command{
	Use:   "lookup <fingerprint>",
	Short: "Show the ledger record for a fingerprint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		rec, err := c.GetRecord(context.Background(), args[0])
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("%s is not recorded in the ledger", args[0])
		}
		if err != nil {
			return fmt.Errorf("lookup: %w", err)
		}
		if outFormat == "json" {
			return printJSON(cmd.OutOrStdout(), rec)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Fingerprint: %s\n", rec.Fingerprint)
		fmt.Fprintf(out, "Kind:        %s\n", rec.Kind)
		fmt.Fprintf(out, "Scheme:      %s\n", rec.Scheme)
		fmt.Fprintf(out, "Recorded:    %s\n", rec.RecordedAt.Format(time.RFC3339Nano))
		if len(rec.Payload) > 0 {
			fmt.Fprintf(out, "Payload:     %s\n", rec.Payload)
		}
		return nil
	},
}

// ── summarize / ask / learn ──────────────────────────────────────────────────

var (
	askContext  string
	askQuestion string
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize <text|->",
	Short: "Generate and record a summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := argOrStdin(cmd, args[0])
		if err != nil {
			return err
		}
		return generate(cmd, func(ctx context.Context, c *client.Client) (map[string]any, error) {
			return c.Summarize(ctx, text)
		})
	},
}

var askCmd = &cobra.Command{
	Use:   "ask --context <text> --question <text>",
	Short: "Generate and record an answer to a question about some context",
	RunE: func(cmd *cobra.Command, args []string) error {
		return generate(cmd, func(ctx context.Context, c *client.Client) (map[string]any, error) {
			return c.Answer(ctx, askContext, askQuestion)
		})
	},
}

var learnCmd = &cobra.Command{
	Use:   "learn <topic>",
	Short: "Generate and record a learning path for a topic",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic := strings.Join(args, " ")
		return generate(cmd, func(ctx context.Context, c *client.Client) (map[string]any, error) {
			return c.LearningPath(ctx, topic)
		})
	},
}

func init() {
	askCmd.Flags().StringVar(&askContext, "context", "", "context the answer is drawn from")
	askCmd.Flags().StringVar(&askQuestion, "question", "", "question to answer")
	_ = askCmd.MarkFlagRequired("context")
	_ = askCmd.MarkFlagRequired("question")
}

func generate(cmd *cobra.Command, fn func(context.Context, *client.Client) (map[string]any, error)) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	res, err := fn(context.Background(), c)
	if err != nil {
		return err
	}
	if outFormat == "json" {
		return printJSON(cmd.OutOrStdout(), res)
	}
	out := cmd.OutOrStdout()
	for k, v := range canonical.Strip(res) {
		fmt.Fprintf(out, "%s:\n%v\n\n", k, v)
	}
	fmt.Fprintf(out, "verification_hash: %v\n", res[canonical.FingerprintField])
	return nil
}

func argOrStdin(cmd *cobra.Command, arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// ── record ───────────────────────────────────────────────────────────────────

var recordClaim string

var recordCmd = &cobra.Command{
	Use:   "record <kind> <file|->",
	Short: "Record a result produced elsewhere",
	Long: `record submits a payload to the ledger under kind. It needs a producer
token with the ledger:record scope, set as producer_token in the config
file or RL_PRODUCER_TOKEN.

When the payload carries a verification_hash, or --fingerprint is given,
the ledger rejects the write unless it matches the computed fingerprint.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(cmd, args[1])
		if err != nil {
			return err
		}
		claim := recordClaim
		if s, ok := payload[canonical.FingerprintField].(string); ok && claim == "" {
			claim = s
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Record(context.Background(), args[0], payload, claim)
		if err != nil {
			return fmt.Errorf("record: %w", err)
		}
		if outFormat == "json" {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", res.Outcome, res.Fingerprint, res.Scheme)
		return nil
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordClaim, "fingerprint", "", "expected fingerprint of the payload")
}

// ── token ────────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage producer tokens",
}

var (
	tokenProducer string
	tokenScopes   []string
	tokenTTL      time.Duration
)

var tokenIssueCmd = &cobra.Command{
	Use:   "issue --producer <name>",
	Short: "Issue a producer token signed with the ledger's secret",
	Long: `issue mints a producer token locally. The signing secret is read from
auth.producer_secret in the config file or RL_AUTH_PRODUCER_SECRET and must
match the ledger server's.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := viper.GetString("auth.producer_secret")
		if secret == "" {
			return errors.New("auth.producer_secret is not set")
		}
		issuer := viper.GetString("auth.issuer")
		if issuer == "" {
			issuer = "resultledger"
		}
		tokens, err := auth.NewTokenIssuer(secret, issuer, tokenTTL)
		if err != nil {
			return err
		}
		tok, err := tokens.Issue(tokenProducer, tokenScopes)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		if outFormat == "json" {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"token":      tok,
				"producer":   tokenProducer,
				"scopes":     tokenScopes,
				"expires_in": int(tokens.TTL().Seconds()),
			})
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
		return err
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenProducer, "producer", "", "producer name (token subject)")
	tokenIssueCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{auth.ScopeRecord}, "scopes to grant")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenIssueCmd.MarkFlagRequired("producer")

	tokenCmd.AddCommand(tokenIssueCmd)
}
