package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/giftcraft/experience/internal/catalog"
	"github.com/giftcraft/experience/internal/domain"
	"github.com/giftcraft/experience/internal/renderer"
)

func newTemplatesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect the template catalog",
	}
	cmd.AddCommand(newTemplatesListCommand(ctx))
	cmd.AddCommand(newTemplatesShowCommand(ctx))
	cmd.AddCommand(newTemplatesValidateCommand(ctx))
	return cmd
}

func newTemplatesListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every template in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := ctx.load()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, cat.Len())
			for _, tpl := range cat.ListAll() {
				rows = append(rows, []string{
					strconv.Itoa(tpl.ID),
					tpl.Slug,
					tpl.Title,
					tpl.Category,
					strconv.Itoa(len(tpl.Pages)),
					formatPrice(tpl.Price),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Slug", "Title", "Category", "Pages", "Price"}, rows, 1, 5, 6))
			return nil
		},
	}
}

func newTemplatesShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <slug>",
		Short: "Show the pages of one template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := ctx.load()
			if err != nil {
				return err
			}
			tpl, err := cat.GetBySlug(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			registry := renderer.NewDefaultRegistry(cat)
			specific := make(map[string]bool)
			for _, id := range registry.Implemented(tpl) {
				specific[id] = true
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (#%d) %s\n", tpl.Title, tpl.ID, formatPrice(tpl.Price))
			if tpl.BackgroundTrack != "" {
				fmt.Fprintf(out, "Background track: %s\n", tpl.BackgroundTrack)
			}
			rows := make([][]string, 0, len(tpl.Pages))
			for i, page := range tpl.Pages {
				unit := "fallback"
				if specific[page.ID] {
					unit = "specific"
				}
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					page.ID,
					string(page.Type),
					strings.Join(page.RequiredFields, ", "),
					unit,
				})
			}
			fmt.Fprintln(out, renderTable([]string{"#", "Page", "Type", "Required", "Renderer"}, rows, 1))
			return nil
		},
	}
}

func newTemplatesValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a catalog document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := ctx.load()
			if err != nil {
				return fmt.Errorf("catalog invalid: %w", err)
			}
			if err := catalog.Validate(cat.ListAll()); err != nil {
				return fmt.Errorf("catalog invalid: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Catalog valid: %d templates\n", cat.Len())
			return nil
		},
	}
}

func formatPrice(p domain.Price) string {
	if p.Amount == 0 {
		return "free"
	}
	currency := strings.ToUpper(p.Currency)
	if currency == "" {
		return strconv.FormatInt(p.Amount, 10)
	}
	return fmt.Sprintf("%d %s", p.Amount, currency)
}
