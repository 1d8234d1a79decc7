package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pkt.systems/s3ferry"
	"pkt.systems/s3ferry/internal/keystore"
)

func newAddKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "add-key s3://BUCKET/KEY KEY_NAME",
		Aliases: []string{"add-encrypted-key"},
		Short:   "Grant another key pair access to an encrypted object",
		Long: `Re-wrap the object's symmetric key under the named key pair's public
key and append the wrapping to the object metadata. Requires a private
key for one of the object's existing key pairs in the local key
directory, plus the new key pair's public key.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := buildClient()
			if err != nil {
				return err
			}
			uri, err := s3ferry.ParseURI(args[0])
			if err != nil {
				return err
			}
			if err := client.AddEncryptedKey(cmd.Context(), uri, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s can now be decrypted with %q\n", uri.String(), args[1])
			return nil
		},
	}
	return cmd
}

func newRemoveKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove-key s3://BUCKET/KEY KEY_NAME",
		Aliases: []string{"remove-encrypted-key"},
		Short:   "Revoke a key pair's access to an encrypted object",
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
			if err := client.RemoveEncryptedKey(cmd.Context(), uri, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s can no longer be decrypted with %q\n", uri.String(), args[1])
			return nil
		},
	}
	return cmd
}

func newKeygenCommand() *cobra.Command {
	var bits int
	cmd := &cobra.Command{
		Use:   "keygen KEY_NAME",
		Short: "Generate an RSA key pair in the key directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := viper.GetString("key-dir")
			if dir == "" {
				var err error
				dir, err = keystore.DefaultDir()
				if err != nil {
					return err
				}
			}
			if _, err := keystore.New(dir).Generate(args[0], bits); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated key pair %q in %s\n", args[0], dir)
			return nil
		},
	}
	cmd.Flags().IntVar(&bits, "bits", 2048, "RSA key size in bits")
	return cmd
}
