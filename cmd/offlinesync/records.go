package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/agentworkforce/offlinesync/internal/export"
	"github.com/agentworkforce/offlinesync/internal/records"
)

func newRecordsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Capture and inspect pending activity records",
	}
	cmd.AddCommand(newRecordsAddCommand(root))
	cmd.AddCommand(newRecordsListCommand(root))
	cmd.AddCommand(newRecordsDeleteCommand(root))
	cmd.AddCommand(newRecordsExportCommand(root))
	cmd.AddCommand(newRecordsImportCommand(root))
	return cmd
}

func openStore(root *rootOptions) (records.Store, error) {
	cfg, err := root.load()
	if err != nil {
		return nil, err
	}
	return records.BuildStoreFromDSN(cfg.RecordsDSN)
}

func newRecordsAddCommand(root *rootOptions) *cobra.Command {
	var draft records.Draft

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Capture one activity record",
		Long: `Capture an activity record in the local store. Missing fields are asked for
interactively.

Example:
  offlinesync records add --student "Ana" --activity "Lab" --hours 2
  offlinesync records add`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if draft.StudentName == "" || draft.Activity == "" || draft.Hours == 0 {
				if err := promptDraft(cmd.InOrStdin(), cmd.OutOrStdout(), &draft); err != nil {
					return err
				}
			}
			if draft.Date == "" {
				draft.Date = time.Now().Format(time.DateOnly)
			}
			if err := draft.Validate(); err != nil {
				return err
			}

			store, err := openStore(root)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Add(cmd.Context(), draft)
			if err != nil {
				return err
			}
			if root.Format == "json" {
				return root.writeJSON(cmd.OutOrStdout(), rec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved record %d (%s, %s, %s, %dh)\n", rec.ID, rec.StudentName, rec.Activity, rec.Date, rec.Hours)
			return nil
		},
	}

	cmd.Flags().StringVar(&draft.StudentName, "student", "", "student name")
	cmd.Flags().StringVar(&draft.Activity, "activity", "", "activity name")
	cmd.Flags().StringVar(&draft.Date, "date", "", "activity date, YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&draft.Hours, "hours", 0, "hours spent, 1 to 8")
	return cmd
}

// promptDraft fills the empty fields of draft from an interactive prompt,
// asking again until each answer is usable.
func promptDraft(in io.Reader, out io.Writer, draft *records.Draft) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt: "> ",
		Stdin:  io.NopCloser(in),
		Stdout: out,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	ask := func(label string, accept func(string) bool) error {
		rl.SetPrompt(label + ": ")
		for {
			line, err := rl.Readline()
			if err != nil {
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					return fmt.Errorf("%w: %s not provided", records.ErrInvalidInput, label)
				}
				return err
			}
			if accept(strings.TrimSpace(line)) {
				return nil
			}
			fmt.Fprintf(out, "invalid %s, try again\n", label)
		}
	}

	if draft.StudentName == "" {
		if err := ask("student", func(v string) bool {
			draft.StudentName = v
			return v != ""
		}); err != nil {
			return err
		}
	}
	if draft.Activity == "" {
		if err := ask("activity", func(v string) bool {
			draft.Activity = v
			return v != ""
		}); err != nil {
			return err
		}
	}
	if draft.Date == "" {
		if err := ask("date (YYYY-MM-DD, empty for today)", func(v string) bool {
			if v == "" {
				return true
			}
			if _, err := time.Parse(time.DateOnly, v); err != nil {
				return false
			}
			draft.Date = v
			return true
		}); err != nil {
			return err
		}
	}
	if draft.Hours == 0 {
		if err := ask("hours", func(v string) bool {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 8 {
				return false
			}
			draft.Hours = n
			return true
		}); err != nil {
			return err
		}
	}
	return nil
}

func newRecordsListCommand(root *rootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records that have not been synced yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(root)
			if err != nil {
				return err
			}
			defer store.Close()

			var recs []records.Record
			if date != "" {
				recs, err = store.ListByDate(cmd.Context(), date)
			} else {
				recs, err = store.GetAll(cmd.Context())
			}
			if err != nil {
				return err
			}
			if root.Format == "json" {
				if recs == nil {
					recs = []records.Record{}
				}
				return root.writeJSON(cmd.OutOrStdout(), recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no pending records")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTUDENT\tACTIVITY\tDATE\tHOURS")
			for _, rec := range recs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", rec.ID, rec.StudentName, rec.Activity, rec.Date, rec.Hours)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "only records for this date")
	return cmd
}

func newRecordsDeleteCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Discard a pending record without syncing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("%w: record id %q", records.ErrInvalidInput, args[0])
			}
			store, err := openStore(root)
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := store.Get(cmd.Context(), id); err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted record %d\n", id)
			return nil
		},
	}
}

func newRecordsExportCommand(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write pending records to an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(root)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.GetAll(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := export.WriteXLSX(f, recs); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", len(recs), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "workbook to write")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newRecordsImportCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.xlsx>",
		Short: "Capture records from an XLSX workbook",
		Long: `Read records from the first sheet of a workbook. Every row is validated
before any of them is saved.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			drafts, err := export.ReadDrafts(f)
			if err != nil {
				return err
			}
			for i, d := range drafts {
				if err := d.Validate(); err != nil {
					return fmt.Errorf("record %d: %w", i+1, err)
				}
			}

			store, err := openStore(root)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, d := range drafts {
				if _, err := store.Add(cmd.Context(), d); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records from %s\n", len(drafts), args[0])
			return nil
		},
	}
}
