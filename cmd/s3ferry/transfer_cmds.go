package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkt.systems/s3ferry"
)

func newUploadCommand() *cobra.Command {
	var keyName string
	var acl string
	var quiet bool
	cmd := &cobra.Command{
		Use:   "upload LOCAL s3://BUCKET/KEY",
		Short: "Upload a file or directory",
		Long: `Upload a local file to the store as a chunked multipart upload.
A directory source uploads every regular file beneath it under the
destination key prefix. With --key the payload is encrypted client-side
before it leaves this machine.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient()
			if err != nil {
				return err
			}
			dst, err := s3ferry.ParseURI(args[1])
			if err != nil {
				return err
			}
			opts := s3ferry.UploadOptions{
				EncryptKeyName: keyName,
				CannedACL:      acl,
			}
			if !quiet {
				opts.Progress = printProgress
			}
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			if info.IsDir() {
				uploaded, err := client.UploadDirectory(cmd.Context(), args[0], dst, opts)
				if err != nil {
					return err
				}
				finishProgress(quiet)
				fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d objects under %s\n", len(uploaded), dst.String())
				return nil
			}
			result, err := client.Upload(cmd.Context(), args[0], dst, opts)
			if err != nil {
				return err
			}
			finishProgress(quiet)
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s (%s)\n", result.URI.String(), humanize.IBytes(uint64(result.FileLength)))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyName, "key", "", "encrypt with the named RSA key pair")
	cmd.Flags().StringVar(&acl, "acl", "", "canned ACL for the object (default "+s3ferry.DefaultCannedACL+")")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
	return cmd
}

func newDownloadCommand() *cobra.Command {
	var overwrite bool
	var recursive bool
	var quiet bool
	cmd := &cobra.Command{
		Use:   "download s3://BUCKET/KEY LOCAL",
		Short: "Download an object or prefix",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient()
			if err != nil {
				return err
			}
			src, err := s3ferry.ParseURI(args[0])
			if err != nil {
				return err
			}
			opts := s3ferry.DownloadOptions{Overwrite: overwrite}
			if !quiet {
				opts.Progress = printProgress
			}
			if recursive {
				n, err := client.DownloadDirectory(cmd.Context(), src, args[1], opts)
				if err != nil {
					return err
				}
				finishProgress(quiet)
				fmt.Fprintf(cmd.OutOrStdout(), "downloaded %d objects into %s\n", n, args[1])
				return nil
			}
			if err := client.Download(cmd.Context(), src, args[1], opts); err != nil {
				return err
			}
			finishProgress(quiet)
			fmt.Fprintf(cmd.OutOrStdout(), "downloaded %s\n", args[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing local files")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "download every object under the key prefix")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
	return cmd
}

func newCopyCommand() *cobra.Command {
	var acl string
	cmd := &cobra.Command{
		Use:     "cp s3://BUCKET/KEY s3://BUCKET/KEY",
		Aliases: []string{"copy"},
		Short:   "Copy an object server-side",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient()
			if err != nil {
				return err
			}
			src, err := s3ferry.ParseURI(args[0])
			if err != nil {
				return err
			}
			dst, err := s3ferry.ParseURI(args[1])
			if err != nil {
				return err
			}
			info, err := client.Copy(cmd.Context(), src, dst, s3ferry.CopyOptions{CannedACL: acl})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "copied to %s (%s)\n", info.URI.String(), humanize.IBytes(uint64(info.Size)))
			return nil
		},
	}
	cmd.Flags().StringVar(&acl, "acl", "", "canned ACL for the destination (default "+s3ferry.DefaultCannedACL+")")
	return cmd
}

func printProgress(transferred, total int64) {
	if total == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "\r%s / %s (%d%%)",
		humanize.IBytes(uint64(transferred)), humanize.IBytes(uint64(total)),
		transferred*100/total)
}

func finishProgress(quiet bool) {
	if !quiet {
		fmt.Fprintln(os.Stderr)
	}
}
