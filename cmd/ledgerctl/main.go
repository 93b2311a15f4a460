package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/powledger/internal/pow"
	"github.com/jmerrifield20/powledger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

const defaultNodeURL = "http://localhost:8080"

var (
	nodeURL      string
	cfgFile      string
	outputFormat string
	timeout      time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Command-line client for a powledger node",
	Long: `ledgerctl submits transactions to a powledger node, asks it to mine
blocks, and inspects or verifies its chain.

The solve command runs the proof-of-work search locally without a node.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.ledgerctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if nodeURL == "" {
			nodeURL = viper.GetString("node_url")
		}
		if nodeURL == "" {
			nodeURL = defaultNodeURL
		}
		if outputFormat != "text" && outputFormat != "json" {
			return fmt.Errorf("unknown --format %q (want text or json)", outputFormat)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.ledgerctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&nodeURL, "node", "", "node base URL (default "+defaultNodeURL+")")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "output format: text or json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "request timeout (e.g. 30s); 0 waits indefinitely")

	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(txCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(mineCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	return client.New(nodeURL, client.WithTimeout(timeout))
}

// signalContext is cancelled on Ctrl-C so long-running calls stop cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printBlocks(w io.Writer, blocks []client.Block) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tTIME\tPROOF\tTXS\tPREVIOUS HASH")
	for _, b := range blocks {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n",
			b.Index, b.Time().Format(time.RFC3339), b.Proof, len(b.Transactions), b.PreviousHash)
	}
	return tw.Flush()
}

func printTransactions(w io.Writer, txs []client.Transaction) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SENDER\tRECIPIENT\tAMOUNT")
	for _, tx := range txs {
		fmt.Fprintf(tw, "%s\t%s\t%v\n", tx.Sender, tx.Recipient, tx.Amount)
	}
	return tw.Flush()
}

// ── chain ────────────────────────────────────────────────────────────────────

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "List every block in the node's chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		chain, err := c.Chain(ctx)
		if err != nil {
			return fmt.Errorf("fetch chain: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), chain)
		}
		return printBlocks(cmd.OutOrStdout(), chain)
	},
}

// ── block ────────────────────────────────────────────────────────────────────

var blockCmd = &cobra.Command{
	Use:   "block <index>",
	Short: "Show a single block and its transactions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[0])
		if err != nil || idx < 1 {
			return fmt.Errorf("index must be a positive integer, got %q", args[0])
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		b, err := c.Block(ctx, idx)
		if err != nil {
			return fmt.Errorf("fetch block %d: %w", idx, err)
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), b)
		}

		out := cmd.OutOrStdout()
		if err := printBlocks(out, []client.Block{*b}); err != nil {
			return err
		}
		fmt.Fprintln(out)
		return printTransactions(out, b.Transactions)
	},
}

// ── tx ───────────────────────────────────────────────────────────────────────

var txCmd = &cobra.Command{
	Use:   "tx <sender> <recipient> <amount>",
	Short: "Submit a transaction to the pending pool",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("amount must be a number, got %q", args[2])
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		idx, err := c.SubmitTransaction(ctx, args[0], args[1], amount)
		if err != nil {
			return fmt.Errorf("submit transaction: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), map[string]int{"index": idx})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Transaction accepted; expected in block %d\n", idx)
		return nil
	},
}

// ── pending ──────────────────────────────────────────────────────────────────

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List transactions waiting for the next block",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		txs, err := c.PendingTransactions(ctx)
		if err != nil {
			return fmt.Errorf("fetch pending transactions: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), txs)
		}
		if len(txs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pending transactions.")
			return nil
		}
		return printTransactions(cmd.OutOrStdout(), txs)
	},
}

// ── mine ─────────────────────────────────────────────────────────────────────

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Ask the node to solve the next proof and seal a block",
	Long: `mine blocks until the node finds a proof for the next block.
Press Ctrl-C to abandon the request; the node stops searching.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		res, err := c.Mine(ctx)
		if err != nil {
			return fmt.Errorf("mine: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Block %d forged: proof=%d attempts=%d elapsed=%dms txs=%d\n",
			res.Block.Index, res.Block.Proof, res.Attempts, res.ElapsedMS, len(res.Block.Transactions))
		return nil
	},
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the node's chain for tampering",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		report, err := c.Verify(ctx)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		if outputFormat == "json" {
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else if report.Valid {
			fmt.Fprintln(cmd.OutOrStdout(), "Chain is valid.")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Chain is INVALID: %s\n", report.Error)
		}
		if !report.Valid {
			return fmt.Errorf("chain integrity check failed")
		}
		return nil
	},
}

// ── solve ────────────────────────────────────────────────────────────────────

var (
	solveLastProof  int64
	solveDifficulty int
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Run the proof-of-work search locally",
	Long: `solve finds the smallest proof valid against --last-proof at the given
difficulty, without contacting a node. Press Ctrl-C to stop the search.

  ledgerctl solve --last-proof 100 --difficulty 4`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pow.New(pow.Config{Difficulty: solveDifficulty})
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		if timeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, timeout)
			defer tcancel()
		}

		res := <-p.SolveAsync(ctx, solveLastProof)
		if res.Err != nil {
			return fmt.Errorf("solve: %w", res.Err)
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"last_proof": solveLastProof,
				"proof":      res.Proof,
				"difficulty": solveDifficulty,
				"attempts":   res.Attempts,
				"elapsed_ms": res.Elapsed.Milliseconds(),
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "proof=%d attempts=%d elapsed=%s\n", res.Proof, res.Attempts, res.Elapsed)
		return nil
	},
}

func init() {
	solveCmd.Flags().Int64Var(&solveLastProof, "last-proof", 100, "proof of the block being extended")
	solveCmd.Flags().IntVar(&solveDifficulty, "difficulty", pow.DefaultDifficulty, "required leading zero hex digits")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ledgerctl %s\n", version)
	},
}
