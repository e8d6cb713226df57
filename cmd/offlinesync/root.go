package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/offlinesync/internal/config"
)

type printfLogger interface {
	Printf(format string, args ...any)
}

type rootOptions struct {
	ConfigPath string
	Format     string
	Verbose    bool
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "offlinesync",
		Short: "Offline-first cache and sync agent",
		Long: `offlinesync runs a local agent in front of a web application. It answers
requests from tiered caches when the network is gone, stores captured activity
records durably and syncs them to the remote endpoint once it is reachable.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("OFFLINESYNC_CONFIG"), "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log agent activity to stderr")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newRecordsCommand(opts))

	return cmd
}

func (o *rootOptions) load() (config.Config, error) {
	return config.Load(o.ConfigPath)
}

// logger is nil unless --verbose is set.
func (o *rootOptions) logger() printfLogger {
	if !o.Verbose {
		return nil
	}
	return log.New(os.Stderr, "offlinesync: ", log.LstdFlags)
}

func (o *rootOptions) writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
