package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkt.systems/s3ferry"
)

func newListCommand() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "ls [s3://BUCKET[/PREFIX]]",
		Short: "List buckets, or objects under a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				buckets, err := client.ListBuckets(cmd.Context())
				if err != nil {
					return err
				}
				for _, b := range buckets {
					fmt.Fprintf(out, "%s  s3://%s\n", b.Created.Format("2006-01-02 15:04:05"), b.Name)
				}
				return nil
			}
			uri, err := s3ferry.ParseURI(args[0])
			if err != nil {
				return err
			}
			objects, err := client.List(cmd.Context(), uri, s3ferry.ListOptions{Recursive: recursive})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(out, 2, 8, 2, ' ', 0)
			for _, obj := range objects {
				fmt.Fprintf(w, "%s\t%s\n", humanize.IBytes(uint64(obj.Size)), obj.URI.String())
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "descend past path delimiters")
	return cmd
}

func newDiskUsageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "du s3://BUCKET[/PREFIX]",
		Short: "Sum stored bytes under a prefix",
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
			objects, err := client.List(cmd.Context(), uri, s3ferry.ListOptions{Recursive: true})
			if err != nil {
				return err
			}
			var total int64
			for _, obj := range objects {
				total += obj.Size
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes) in %d objects under %s\n",
				humanize.IBytes(uint64(total)), total, len(objects), uri.String())
			return nil
		},
	}
	return cmd
}

func newStatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat s3://BUCKET/KEY",
		Short: "Show object details and transfer metadata",
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
			info, err := client.Stat(cmd.Context(), uri)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "uri:           %s\n", info.URI.String())
			fmt.Fprintf(out, "stored size:   %s (%d bytes)\n", humanize.IBytes(uint64(info.Size)), info.Size)
			fmt.Fprintf(out, "etag:          %s\n", info.ETag)
			fmt.Fprintf(out, "last modified: %s\n", info.LastModified.Format("2006-01-02 15:04:05 MST"))
			if info.Tool {
				fmt.Fprintf(out, "file length:   %d bytes\n", info.FileLength)
				fmt.Fprintf(out, "chunk size:    %s\n", humanize.IBytes(uint64(info.ChunkSize)))
				if info.Encrypted {
					fmt.Fprintf(out, "encrypted for: %s\n", strings.Join(info.KeyNames, ", "))
				} else {
					fmt.Fprintln(out, "encrypted for: (not encrypted)")
				}
			} else {
				fmt.Fprintln(out, "transfer metadata: none (foreign object)")
			}
			return nil
		},
	}
	return cmd
}

func newExistsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exists s3://BUCKET/KEY",
		Short: "Exit 0 if the object exists, 1 otherwise",
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
			ok, err := client.Exists(cmd.Context(), uri)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s does not exist", uri.String())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s exists\n", uri.String())
			return nil
		},
	}
	return cmd
}

func newRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm s3://BUCKET/KEY",
		Short: "Delete an object",
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
			if err := client.Delete(cmd.Context(), uri); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", uri.String())
			return nil
		},
	}
	return cmd
}
