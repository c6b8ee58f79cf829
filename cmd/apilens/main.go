// Command apilens analyzes microservice projects against their reference
// documentation, either as an HTTP service or as a one-shot batch.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raysh454/apilens/internal/app"
	"github.com/raysh454/apilens/internal/demo"
	"github.com/raysh454/apilens/internal/logging"
	"github.com/raysh454/apilens/internal/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// errAnalysisFailed is returned after the failure detail has been printed.
var errAnalysisFailed = errors.New("analysis failed")

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "apilens",
		Short:         "Check microservice APIs against their documentation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (defaults apply when empty)")

	load := func() (*app.Config, error) {
		if configPath == "" {
			cfg := app.DefaultConfig()
			return cfg, cfg.Validate()
		}
		return app.LoadConfig(configPath)
	}

	root.AddCommand(newServeCmd(load), newAnalyzeCmd(load), newDemoCmd())
	return root
}

func newServeCmd(load func() (*app.Config, error)) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.ListenAddr = addr
			}
			a, err := app.NewApplication(cfg, logging.NewStdoutLogger("apilens"))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx, nil)
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "Override server.listen_addr")
	return cmd
}

func newAnalyzeCmd(load func() (*app.Config, error)) *cobra.Command {
	var projects, references []string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze one batch and print the result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := logging.NewWriterLogger("apilens", cmd.ErrOrStderr())
			a, err := app.NewApplication(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out, err := a.Analyze(ctx, projects, references)
			if err != nil {
				return err
			}
			switch out.Kind {
			case pipeline.OutcomeReady:
				return writeJSON(cmd.OutOrStdout(), out.Result)
			case pipeline.OutcomeFailed:
				if err := writeJSON(cmd.OutOrStdout(), out.Error); err != nil {
					return err
				}
				return errAnalysisFailed
			}
			return fmt.Errorf("analysis ended as %s", out.Kind)
		},
	}
	cmd.Flags().StringSliceVarP(&projects, "project", "p", nil, "Project archive or directory (repeatable)")
	cmd.Flags().StringSliceVarP(&references, "reference", "r", nil, "Reference document, in project order (repeatable)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo DIR",
		Short: "Write a sample batch to DIR and print the paths to analyze",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := demo.Write(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), batch)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
