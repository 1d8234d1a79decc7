package s3ferry

import (
	"fmt"
	"net/url"
	"strings"
)

// URI locates an object or prefix, optionally pinned to one object version.
type URI struct {
	Bucket    string
	Key       string
	VersionID string
}

// ParseURI parses an s3://bucket/key address. A versionId query parameter
// pins the reference to one object version. The key part may be empty for
// bucket-level operations.
func ParseURI(raw string) (URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, fmt.Errorf("%w: parse %q: %v", ErrUsage, raw, err)
	}
	if u.Scheme != "s3" {
		return URI{}, fmt.Errorf("%w: %q is not an s3:// address", ErrUsage, raw)
	}
	if u.Host == "" {
		return URI{}, fmt.Errorf("%w: %q has no bucket", ErrUsage, raw)
	}
	uri := URI{
		Bucket:    u.Host,
		Key:       strings.TrimPrefix(u.Path, "/"),
		VersionID: u.Query().Get("versionId"),
	}
	return uri, nil
}

// String renders the address back in s3:// form.
func (u URI) String() string {
	s := "s3://" + u.Bucket + "/" + u.Key
	if u.VersionID != "" {
		s += "?versionId=" + url.QueryEscape(u.VersionID)
	}
	return s
}

// WithKey returns a copy addressing a different key in the same bucket.
func (u URI) WithKey(key string) URI {
	u.Key = key
	u.VersionID = ""
	return u
}
