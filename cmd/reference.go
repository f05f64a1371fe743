package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shelfwatch/pricematch/internal/fetcher"
	"github.com/shelfwatch/pricematch/internal/model"
)

var referenceCmd = &cobra.Command{
	Use:   "reference",
	Short: "Manage the canonical reference product catalog",
	Long:  "Commands for importing, listing, and extending reference products and their aliases.",
}

// -- reference import --

var referenceImportCmd = &cobra.Command{
	Use:   "import <source>",
	Short: "Import reference products from a CSV file or URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		refs, err := fetcher.ReadReferences(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "reference import")
		}

		for _, ref := range refs {
			if err := st.UpsertReference(ctx, ref); err != nil {
				return eris.Wrapf(err, "reference import: upsert %s", ref.ID)
			}
		}

		zap.L().Info("references imported",
			zap.String("source", args[0]),
			zap.Int("count", len(refs)),
		)
		fmt.Fprintf(os.Stdout, "Imported %d reference products.\n", len(refs))
		return nil
	},
}

// -- reference list --

var referenceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reference products",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		refs, err := st.ListReferences(ctx)
		if err != nil {
			return eris.Wrap(err, "reference list")
		}

		if len(refs) == 0 {
			fmt.Fprintln(os.Stderr, "No reference products found.")
			return nil
		}

		formatReferenceList(os.Stdout, refs)
		return nil
	},
}

// -- reference add-alias --

var referenceAddAliasCmd = &cobra.Command{
	Use:   "add-alias <reference-id> <alias>",
	Short: "Append an alias to a reference product",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		added, err := st.AppendAlias(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "reference add-alias")
		}

		if added {
			fmt.Fprintf(os.Stdout, "Alias %q added to %s.\n", args[1], args[0])
		} else {
			fmt.Fprintf(os.Stdout, "Alias %q already known for %s.\n", args[1], args[0])
		}
		return nil
	},
}

func init() {
	referenceCmd.AddCommand(referenceImportCmd)
	referenceCmd.AddCommand(referenceListCmd)
	referenceCmd.AddCommand(referenceAddAliasCmd)
	rootCmd.AddCommand(referenceCmd)
}

// formatReferenceList writes a tabular list of reference products to w.
func formatReferenceList(out io.Writer, refs []model.ReferenceProduct) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tBRAND\tALIASES")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-------")

	for _, r := range refs {
		aliases := strings.Join(r.Aliases, ", ")
		if len(aliases) > 50 {
			aliases = aliases[:47] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.DisplayName, r.Brand, aliases)
	}
	_ = w.Flush()
}
