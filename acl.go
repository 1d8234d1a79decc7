package s3ferry

import "fmt"

// DefaultCannedACL is applied to uploads and copies when no ACL is chosen.
// Granting the bucket owner full control keeps cross-account uploads usable
// by the receiving account.
const DefaultCannedACL = "bucket-owner-full-control"

var cannedACLs = map[string]struct{}{
	"private":                   {},
	"public-read":               {},
	"public-read-write":         {},
	"authenticated-read":        {},
	"aws-exec-read":             {},
	"bucket-owner-read":         {},
	"bucket-owner-full-control": {},
	"log-delivery-write":        {},
}

// CannedACLs lists the accepted canned ACL names.
func CannedACLs() []string {
	out := make([]string, 0, len(cannedACLs))
	for name := range cannedACLs {
		out = append(out, name)
	}
	return out
}

func resolveACL(acl string) (string, error) {
	if acl == "" {
		return DefaultCannedACL, nil
	}
	if _, ok := cannedACLs[acl]; !ok {
		return "", fmt.Errorf("%w: unknown canned ACL %q", ErrUsage, acl)
	}
	return acl, nil
}
