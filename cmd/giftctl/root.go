package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/giftcraft/experience/internal/catalog"
)

type commandContext struct {
	catalogPath string
}

// load returns the catalog named by --catalog, or the embedded one.
func (c *commandContext) load() (*catalog.Catalog, error) {
	if c.catalogPath == "" {
		return catalog.Default()
	}
	f, err := os.Open(c.catalogPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return catalog.Load(f)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "giftctl",
		Short:         "Gift experience catalog tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&ctx.catalogPath, "catalog", "", "Template catalog YAML (defaults to the embedded catalog)")

	rootCmd.AddCommand(newTemplatesCommand(ctx))
	return rootCmd
}
