// Package s3ferry is a client library for S3-compatible object stores built
// around chunked, parallel, optionally encrypted transfers.
//
// Uploads split the source file into fixed-size chunks and push them as
// multipart-upload parts in parallel; downloads fetch the same chunks with
// ranged reads and reassemble them with positional writes. When a key-pair
// name is supplied, the payload is encrypted client-side: a fresh 32-byte
// symmetric key per object, wrapped with the named RSA public key and stored
// in the object's user metadata, with each part encrypted as an independent
// AES-CBC stream. Everything a reader needs to reverse the transfer travels
// with the object, so any client holding the right private key can download
// it without out-of-band coordination.
//
// The entry point is Client:
//
//	client, err := s3ferry.New(s3ferry.Config{})
//	...
//	dst, _ := s3ferry.ParseURI("s3://bucket/backups/data.bin")
//	_, err = client.Upload(ctx, "data.bin", dst, s3ferry.UploadOptions{
//		EncryptKeyName: "backup-key",
//	})
package s3ferry
