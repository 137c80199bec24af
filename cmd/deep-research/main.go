package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/app"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/policy"
	"github.com/mikeboe/deep-research/pkg/provider"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/stream"
)

type options struct {
	configPath string
	depth      string
	language   string
	thinking   string
	task       string
	search     string
	noCache    bool
	out        string
	verbose    bool
}

func main() {
	// It's okay if .env doesn't exist, as long as env vars are set
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "deep-research",
		Short:         "A terminal-based research agent",
		Long:          `deep-research plans web searches for a goal, condenses what it finds and writes a cited report.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "path to a config file")
	f.StringVarP(&opts.depth, "depth", "d", "", "search depth: fast, medium or deep")
	f.StringVarP(&opts.language, "language", "l", "", "language tag of the report")
	f.StringVar(&opts.thinking, "thinking", "", "thinking model as provider/model")
	f.StringVar(&opts.task, "task", "", "task model as provider/model")
	f.StringVar(&opts.search, "search", "", "search provider id")
	f.BoolVar(&opts.noCache, "no-cache", false, "skip the result cache lookup")
	f.StringVarP(&opts.out, "out", "o", "", "write the final report to this file")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "print reasoning and debug logs")

	root.AddCommand(
		newRunCmd(opts),
		newCompanyCmd(opts),
		newMarketCmd(opts),
		newBulkCmd(opts),
		newCacheCmd(opts),
	)
	return root
}

func newRunCmd(opts *options) *cobra.Command {
	var goal string
	cmd := &cobra.Command{
		Use:   "run [goal]",
		Short: "Research a free-form goal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				goal = args[0]
			}
			if !cmd.Flags().Changed("goal") && goal == "" {
				// Interactive Mode
				fmt.Fprint(cmd.OutOrStdout(), "Enter research goal: ")
				input, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				goal = input
			}
			goal = strings.TrimSpace(goal)
			if goal == "" {
				return errors.New("goal cannot be empty")
			}
			return execute(cmd, opts, research.GoalRequest(goal))
		},
	}
	cmd.Flags().StringVarP(&goal, "goal", "g", "", "the research goal")
	return cmd
}

func newCompanyCmd(opts *options) *cobra.Command {
	var (
		name        string
		industry    string
		competitors []string
	)
	cmd := &cobra.Command{
		Use:   "company",
		Short: "Profile one company",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, research.CompanyRequest(name, industry, competitors...))
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "company name")
	cmd.Flags().StringVar(&industry, "industry", "", "industry of the company")
	cmd.Flags().StringSliceVar(&competitors, "competitor", nil, "known competitor (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newMarketCmd(opts *options) *cobra.Command {
	var market string
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Analyze a market",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, research.MarketRequest(market))
		},
	}
	cmd.Flags().StringVarP(&market, "market", "m", "", "market to analyze")
	_ = cmd.MarkFlagRequired("market")
	return cmd
}

func newBulkCmd(opts *options) *cobra.Command {
	var companies []string
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Profile and compare several companies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, research.BulkCompanyRequest(companies...))
		},
	}
	cmd.Flags().StringSliceVarP(&companies, "company", "c", nil, "company name (repeatable)")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func newCacheCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Inspect the result cache"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Print cache statistics",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := open(cmd.Context(), opts)
				if err != nil {
					return err
				}
				defer a.Close()
				stats, err := a.Cache.Stats(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Remove expired entries",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := open(cmd.Context(), opts)
				if err != nil {
					return err
				}
				defer a.Close()
				removed, err := a.Cache.Cleanup(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired entries\n", removed)
				return nil
			},
		},
	)
	return cmd
}

func open(ctx context.Context, opts *options) (*app.App, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if opts.verbose {
		level = "debug"
	} else if !strings.EqualFold(level, "debug") {
		level = "warn"
	}
	logger := app.NewLogger(level, os.Stderr)
	slog.SetDefault(logger)
	return app.New(ctx, cfg, logger)
}

// applyFlags overrides the request with the persistent flags.
func applyFlags(opts *options, req research.Request) (research.Request, error) {
	if opts.depth != "" {
		d, err := policy.ParseDepth(opts.depth)
		if err != nil {
			return req, err
		}
		req.Depth = d
	}
	var err error
	if req.Thinking, err = parseModel(opts.thinking); err != nil {
		return req, err
	}
	if req.Task, err = parseModel(opts.task); err != nil {
		return req, err
	}
	req.SearchProvider = opts.search
	req.Language = opts.language
	req.NoCache = opts.noCache
	return req, nil
}

// parseModel reads "provider/model"; a bare provider keeps the default model.
func parseModel(s string) (provider.ModelConfig, error) {
	if s == "" {
		return provider.ModelConfig{}, nil
	}
	id, model, _ := strings.Cut(s, "/")
	if id == "" {
		return provider.ModelConfig{}, fmt.Errorf("invalid model %q: want provider/model", s)
	}
	return provider.ModelConfig{ProviderID: id, ModelID: model}, nil
}

func execute(cmd *cobra.Command, opts *options, req research.Request) error {
	req, err := applyFlags(opts, req)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := open(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	sink := stream.NewWriterSink(cmd.OutOrStdout())
	sink.Verbose = opts.verbose
	em := stream.NewEmitter(sink, stream.WithKeepalive(0))
	res, err := a.Engine.Run(ctx, req, em)
	em.Close()
	if err != nil {
		return err
	}

	if opts.out != "" {
		if err := os.WriteFile(opts.out, []byte(res.Report+"\n"), 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", opts.out)
	}
	return nil
}
