package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ProofChain/sdk/go/proofchain"
)

const envServer = "PROOFCHAIN_SERVER"

type rootOptions struct {
	server  string
	timeout time.Duration
	asJSON  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	defaultServer := os.Getenv(envServer)
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}

	rootCmd := &cobra.Command{
		Use:           "proofctl",
		Short:         "Analyze content and publish proofs through a proofd server",
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "proofd base url (env "+envServer+")")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", proofchain.DefaultHTTPTimeout, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print raw JSON responses")

	rootCmd.AddCommand(healthCmd(opts))
	rootCmd.AddCommand(analyzeCmd(opts))
	rootCmd.AddCommand(publishCmd(opts))
	rootCmd.AddCommand(proofsCmd(opts))
	rootCmd.AddCommand(proveCmd(opts))
	return rootCmd
}

func (o *rootOptions) client() (*proofchain.Client, error) {
	return proofchain.NewClient(o.server, nil)
}

func (o *rootOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func healthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			health, err := client.Health(ctx)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), health)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status: %s\n", health.Status)
			if health.Chain != nil {
				fmt.Fprintf(out, "chain:  %s (id %d, block %d)\n", health.Chain.Name, health.Chain.ChainID, health.Chain.BlockNumber)
			}
			if health.ChainError != "" {
				fmt.Fprintf(out, "chain error: %s\n", health.ChainError)
			}
			return nil
		},
	}
}

func analyzeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze content and print its fingerprint",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "text [content]",
		Short: "Analyze text; reads stdin when no argument is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := textArg(cmd, args)
			if err != nil {
				return err
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			result, err := client.AnalyzeText(ctx, text)
			if err != nil {
				return err
			}
			return printAnalysis(cmd.OutOrStdout(), opts.asJSON, result)
		},
	})
	for _, kind := range []string{"image", "video"} {
		cmd.AddCommand(fileAnalyzeCmd(opts, kind))
	}
	return cmd
}

func fileAnalyzeCmd(opts *rootOptions, kind string) *cobra.Command {
	return &cobra.Command{
		Use:   kind + " <path>",
		Short: "Upload a " + kind + " file for analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer file.Close()
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			result, err := client.AnalyzeFile(ctx, kind, filepath.Base(args[0]), file)
			if err != nil {
				return err
			}
			return printAnalysis(cmd.OutOrStdout(), opts.asJSON, result)
		},
	}
}

func publishCmd(opts *rootOptions) *cobra.Command {
	var hash, walletAddr string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a proof fingerprint with the server signer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			result, err := client.PublishProof(ctx, hash, walletAddr)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tx:     %s\nproof:  %s\nwallet: %s\nchain:  %d\n",
				result.TxHash, result.ProofHash, result.WalletAddress, result.ChainID)
			return nil
		},
	}
	cmd.Flags().StringVar(&hash, "hash", "", "proof fingerprint (0x-prefixed keccak256)")
	cmd.Flags().StringVar(&walletAddr, "wallet", "", "wallet address that owns the proof")
	_ = cmd.MarkFlagRequired("hash")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}

func proofsCmd(opts *rootOptions) *cobra.Command {
	var address string
	var limit int
	cmd := &cobra.Command{
		Use:   "proofs [fingerprint]",
		Short: "List recorded proofs, or show one by fingerprint",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			var receipts []proofchain.Receipt
			if len(args) == 1 {
				if address == "" {
					return fmt.Errorf("--address is required when looking up a fingerprint")
				}
				receipt, err := client.GetProof(ctx, args[0], address)
				if err != nil {
					return err
				}
				receipts = []proofchain.Receipt{receipt}
			} else {
				receipts, err = client.ListProofs(ctx, proofchain.ProofQuery{Address: address, Limit: limit})
				if err != nil {
					return err
				}
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), receipts)
			}
			out := cmd.OutOrStdout()
			if len(receipts) == 0 {
				fmt.Fprintln(out, "No proofs recorded.")
				return nil
			}
			for _, r := range receipts {
				fmt.Fprintf(out, "%s  %s  %s  chain=%d  %s\n",
					r.ConfirmedAt.Format(time.RFC3339), r.Fingerprint, r.Address, r.ChainID, r.TransactionID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "filter by owner address")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of proofs")
	return cmd
}

// proveCmd 通过会话接口走完整流程：提交、连接钱包、发布。
func proveCmd(opts *rootOptions) *cobra.Command {
	var kind string
	var keep bool
	cmd := &cobra.Command{
		Use:   "prove <path|->",
		Short: "Run the full content-to-proof workflow in a server session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			session, err := client.CreateSession(ctx)
			if err != nil {
				return err
			}
			if !keep {
				defer func() { _ = client.DeleteSession(context.WithoutCancel(ctx), session.ID) }()
			}

			if kind == "text" {
				text, err := textArg(cmd, []string{args[0]})
				if err != nil {
					return err
				}
				session, err = client.SubmitText(ctx, session.ID, text)
				if err != nil {
					return err
				}
			} else {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open %s: %w", args[0], err)
				}
				defer file.Close()
				session, err = client.SubmitFile(ctx, session.ID, kind, filepath.Base(args[0]), file)
				if err != nil {
					return err
				}
			}
			if _, err := client.ConnectWallet(ctx, session.ID); err != nil {
				return err
			}
			session, err = client.Publish(ctx, session.ID)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), session)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session: %s\nstate:   %s\nproof:   %s\n", session.ID, session.Workflow.State, session.Workflow.ProofHash)
			if r := session.Workflow.Receipt; r != nil {
				fmt.Fprintf(out, "tx:      %s\nowner:   %s\n", r.TransactionID, r.Address)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "text", "content kind: text, image or video")
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the server session after publishing")
	return cmd
}

// textArg 支持参数、"-" 或标准输入三种来源。
func textArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func printAnalysis(out io.Writer, asJSON bool, result proofchain.AnalysisResult) error {
	if asJSON {
		return printJSON(out, result)
	}
	fmt.Fprintf(out, "kind:       %s\nsummary:    %s\nconfidence: %.2f\nproof:      %s\n",
		result.Analysis.Kind, result.Analysis.DetectedSummary, result.Analysis.Confidence, result.ProofHash)
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
