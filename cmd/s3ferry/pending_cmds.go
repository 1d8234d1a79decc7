package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/s3ferry"
)

func newPendingUploadsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pending-uploads s3://BUCKET[/PREFIX]",
		Aliases: []string{"list-pending-uploads"},
		Short:   "List multipart uploads that were never completed or aborted",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient()
			if err != nil {
				return err
			}
			uri, err := s3ferry.ParseURI(args[0])
			if err != nil {
				return err
			}
			pending, err := client.ListPendingUploads(cmd.Context(), uri)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no pending uploads under %s\n", uri.String())
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 8, 2, ' ', 0)
			fmt.Fprintln(w, "INITIATED\tUPLOAD ID\tURI")
			for _, u := range pending {
				fmt.Fprintf(w, "%s\t%s\t%s\n", u.Initiated.Format(time.RFC3339), u.UploadID, u.URI.String())
			}
			return w.Flush()
		},
	}
	return cmd
}

func newAbortUploadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "abort-upload s3://BUCKET/KEY UPLOAD_ID",
		Aliases: []string{"abort-pending-upload"},
		Short:   "Abort one pending multipart upload and free its parts",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient()
			if err != nil {
				return err
			}
			uri, err := s3ferry.ParseURI(args[0])
			if err != nil {
				return err
			}
			if err := client.AbortPendingUpload(cmd.Context(), uri, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "aborted %s on %s\n", args[1], uri.String())
			return nil
		},
	}
	return cmd
}

func newAbortOldUploadsCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "abort-old-uploads s3://BUCKET[/PREFIX]",
		Short: "Abort every pending upload older than a cutoff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient()
			if err != nil {
				return err
			}
			uri, err := s3ferry.ParseURI(args[0])
			if err != nil {
				return err
			}
			n, err := client.AbortOldPendingUploads(cmd.Context(), uri, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "aborted %d pending uploads under %s\n", n, uri.String())
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "abort uploads initiated earlier than this long ago")
	return cmd
}
