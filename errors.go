package s3ferry

import (
	"errors"

	"pkt.systems/s3ferry/internal/envelope"
	"pkt.systems/s3ferry/internal/keystore"
	"pkt.systems/s3ferry/internal/objmeta"
	"pkt.systems/s3ferry/internal/s3api"
)

var (
	// ErrUsage reports an invalid argument or option combination.
	ErrUsage = errors.New("s3ferry: invalid usage")

	// ErrNotFound reports a missing bucket, object, or pending upload.
	ErrNotFound = s3api.ErrNotFound

	// ErrMissingKey reports that the local key directory holds no key pair
	// under the requested name.
	ErrMissingKey = keystore.ErrMissingKey

	// ErrUnsupportedVersion reports an object written by an incompatible
	// tool version.
	ErrUnsupportedVersion = objmeta.ErrUnsupportedVersion

	// ErrLastKeyRemoval reports an attempt to strip the only key wrapping
	// from an encrypted object.
	ErrLastKeyRemoval = objmeta.ErrLastKeyRemoval

	// ErrBadPadding reports a decryption failure, almost always the wrong
	// private key.
	ErrBadPadding = envelope.ErrBadPadding

	// ErrShortObject reports a stored object smaller than its recorded
	// length; the transfer cannot be completed faithfully.
	ErrShortObject = errors.New("s3ferry: stored object shorter than recorded length")
)
