package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmerrifield20/ResultLedger/pkg/canonical"
	"github.com/jmerrifield20/ResultLedger/pkg/client"
	"github.com/jmerrifield20/ResultLedger/pkg/fingerprint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

const defaultLedgerURL = "http://localhost:8080"

var (
	ledgerURL string
	cfgFile   string
	algorithm string
	outFormat string
	timeout   time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "ResultLedger CLI",
	Long: `rl is the command-line interface for ResultLedger.

It canonicalizes and fingerprints result payloads locally, asks a ledger
server to generate or record results, and verifies results against the
ledger.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".rl"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("RL")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if ledgerURL == "" {
			ledgerURL = viper.GetString("ledger_url")
		}
		if ledgerURL == "" {
			ledgerURL = defaultLedgerURL
		}
		if algorithm == "" {
			algorithm = viper.GetString("fingerprint.algorithm")
		}
		if algorithm == "" {
			algorithm = fingerprint.Default().Name()
		}
		switch outFormat {
		case "text", "json":
		default:
			return fmt.Errorf("unknown --format %q (want text or json)", outFormat)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.rl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&ledgerURL, "ledger", "", "ledger server URL (default "+defaultLedgerURL+")")
	rootCmd.PersistentFlags().StringVar(&algorithm, "algorithm", "", "fingerprint hash: sha256, sha3-256 or blake2b-256 (default sha256)")
	rootCmd.PersistentFlags().StringVar(&outFormat, "format", "text", "output format: text or json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout for ledger calls")

	rootCmd.AddCommand(canonCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(vectorsCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the rl CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rl %s (%s)\n", version, canonical.Version)
	},
}

// ── helpers ──────────────────────────────────────────────────────────────────

func hasher() (fingerprint.Hasher, error) {
	return fingerprint.ByName(algorithm)
}

// newClient builds a ledger client from flags and config. The producer
// token, when configured, is attached to write calls.
func newClient() (*client.Client, error) {
	h, err := hasher()
	if err != nil {
		return nil, err
	}
	opts := []client.Option{client.WithHasher(h), client.WithTimeout(timeout)}
	if tok := viper.GetString("producer_token"); tok != "" {
		opts = append(opts, client.WithProducerToken(tok))
	}
	return client.New(ledgerURL, opts...)
}

// readPayload reads a JSON object from path, or stdin when path is "-".
func readPayload(cmd *cobra.Command, path string) (map[string]any, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	payload, err := canonical.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return payload, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
