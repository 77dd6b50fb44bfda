package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/VoteDrop/internal/app"
	"github.com/dharsanguruparan/VoteDrop/internal/model"
	"github.com/dharsanguruparan/VoteDrop/internal/results"
)

// withApp opens the pipeline for the duration of one command.
func withApp(open opener, run func(cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd, a, args)
	}
}

func newUploadCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Queue a .json or .xlsx results file for verification",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(open, func(cmd *cobra.Command, a *app.App, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ds, err := a.Pipeline.Upload(cmd.Context(), filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d records\n", ds.ID, ds.Status, ds.Records)
			return nil
		}),
	}
}

func newListCmd(open opener) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued datasets in upload order",
		RunE: withApp(open, func(cmd *cobra.Command, a *app.App, args []string) error {
			st := model.DatasetStatus(status)
			if st != "" && !st.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			datasets, err := a.Pipeline.List(cmd.Context(), st)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tRECORDS\tERRORS\tWARNINGS\tUPLOADED")
			for _, ds := range datasets {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					ds.ID, ds.Name, ds.Status, ds.Records,
					ds.CountIssues(model.LevelError), ds.CountIssues(model.LevelWarning),
					ds.UploadDate.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVar(&status, "status", "", "Only show datasets in this status (pending, verified, error)")
	return cmd
}

func newShowCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a dataset with its issues and available actions",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(open, func(cmd *cobra.Command, a *app.App, args []string) error {
			ds, err := a.Pipeline.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				model.PendingDataset
				Actions []model.Action `json:"actions"`
			}{*ds, model.AvailableActions(ds.Status)})
		}),
	}
}

// errNoArchive is returned by commands that read from object storage when
// none is configured.
var errNoArchive = errors.New("upload archive is not configured; set VOTEDROP_S3_ENDPOINT")

func newSourceCmd(open opener) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "source <id>",
		Short: "Download the file a queued dataset was uploaded from",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(open, func(cmd *cobra.Command, a *app.App, args []string) error {
			if a.Archive == nil {
				return errNoArchive
			}
			ds, err := a.Pipeline.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := a.Archive.DownloadUpload(cmd.Context(), ds.ID, ds.Name)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o600)
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the file here instead of stdout")
	return cmd
}

func newVerifyCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Verify a pending dataset",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(open, func(cmd *cobra.Command, a *app.App, args []string) error {
			ds, err := a.Pipeline.Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d errors\t%d warnings\n",
				ds.ID, ds.Status, ds.CountIssues(model.LevelError), ds.CountIssues(model.LevelWarning))
			return nil
		}),
	}
}

func newApplyCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <id>",
		Short: "Apply a verified dataset to the applied votes pool",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(open, func(cmd *cobra.Command, a *app.App, args []string) error {
			n, err := a.Pipeline.Apply(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tapplied %d votes\n", args[0], n)
			return nil
		}),
	}
}

func newDeleteCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a dataset that failed verification",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(open, func(cmd *cobra.Command, a *app.App, args []string) error {
			if err := a.Pipeline.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tdeleted\n", args[0])
			return nil
		}),
	}
}

func newResultsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "results",
		Short: "Print the tally of applied votes",
		RunE: withApp(open, func(cmd *cobra.Command, a *app.App, args []string) error {
			votes, err := a.Pipeline.AppliedVotes(cmd.Context())
			if err != nil {
				return err
			}
			summary := results.Tally(votes)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "TOTAL\t%d\n", summary.Total)
			for _, cat := range summary.Categories {
				fmt.Fprintf(tw, "\n%s\t%d votes\t%d non-valid\n", cat.Categoria, cat.Total, cat.NonValid)
				if leader, ok := summary.Leader(cat.Categoria); ok {
					fmt.Fprintf(tw, "  leader\t%s\n", leader.Partido)
				}
				for _, party := range cat.Parties {
					fmt.Fprintf(tw, "  %s\t%d\t%s%%\n", party.Partido, party.Votes, party.Share.StringFixed(2))
				}
			}
			return tw.Flush()
		}),
	}
}
