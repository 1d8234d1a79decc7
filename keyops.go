package s3ferry

import (
	"context"
	"fmt"

	"pkt.systems/s3ferry/internal/envelope"
)

// AddEncryptedKey grants the key pair named keyName access to the encrypted
// object at uri: the symmetric key is recovered with a private key already
// on this machine, wrapped under keyName's public key, and the new wrapping
// is appended to the object's metadata in place.
func (c *Client) AddEncryptedKey(ctx context.Context, uri URI, keyName string) error {
	if uri.Key == "" || keyName == "" {
		return fmt.Errorf("%w: add-key needs an object key and a key name", ErrUsage)
	}
	ctx, logger := c.opCtx(ctx, "add_encrypted_key", "uri", uri.String(), "key_name", keyName)

	info, meta, err := c.head(ctx, uri)
	if err != nil {
		return err
	}
	if !meta.Encrypted() {
		return fmt.Errorf("%w: %s is not encrypted", ErrUsage, uri.String())
	}
	if err := meta.CheckVersion(); err != nil {
		return err
	}
	symKey, err := c.unwrapSymmetricKey(meta)
	if err != nil {
		return err
	}
	pub, err := c.keys.PublicKey(keyName)
	if err != nil {
		return err
	}
	wrapped, err := envelope.WrapKey(pub, symKey)
	if err != nil {
		return err
	}
	if err := meta.AddWrapping(keyName, wrapped); err != nil {
		return err
	}
	err = c.exec.Do(ctx, "rewrite metadata "+uri.String(), func(ctx context.Context) error {
		return c.withHTTPSlot(ctx, func() error {
			return c.store.RewriteMetadata(ctx, info.Bucket, info.Key, meta.Map())
		})
	})
	if err != nil {
		return err
	}
	logger.Info("add_key.done", "key_names", meta.KeyNames)
	return nil
}

// RemoveEncryptedKey revokes keyName's access to the encrypted object at
// uri by dropping its wrapping from the metadata. The last wrapping cannot
// be removed; that would orphan the payload.
func (c *Client) RemoveEncryptedKey(ctx context.Context, uri URI, keyName string) error {
	if uri.Key == "" || keyName == "" {
		return fmt.Errorf("%w: remove-key needs an object key and a key name", ErrUsage)
	}
	ctx, logger := c.opCtx(ctx, "remove_encrypted_key", "uri", uri.String(), "key_name", keyName)

	info, meta, err := c.head(ctx, uri)
	if err != nil {
		return err
	}
	if !meta.Encrypted() {
		return fmt.Errorf("%w: %s is not encrypted", ErrUsage, uri.String())
	}
	if err := meta.CheckVersion(); err != nil {
		return err
	}
	if err := meta.RemoveWrapping(keyName); err != nil {
		return err
	}
	err = c.exec.Do(ctx, "rewrite metadata "+uri.String(), func(ctx context.Context) error {
		return c.withHTTPSlot(ctx, func() error {
			return c.store.RewriteMetadata(ctx, info.Bucket, info.Key, meta.Map())
		})
	})
	if err != nil {
		return err
	}
	logger.Info("remove_key.done", "key_names", meta.KeyNames)
	return nil
}
