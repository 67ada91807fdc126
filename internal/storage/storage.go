package storage

import (
	"context"
)

// UploadResult is returned by Upload so callers can persist both the path
// and the derived public URL.
type UploadResult struct {
	Path string
	URL  string
}

// ObjectStorage is the collaborator contract this core consumes. Transport
// and auth details of the real backend are out of scope; only this surface
// matters to the claim workflow and the cleanup sweep.
//
// Implementations must satisfy:
//   - Upload fails with sentinel.ErrObjectExists when the path is occupied
//     and overwrite is false. No implicit overwrites.
//   - Copy fails with sentinel.ErrNotFound when the source object is missing.
//   - Remove is best-effort bulk delete; removing an absent object is a
//     no-op, not an error. Callers must already have restricted paths via
//     NormalizePaths.
//   - PublicURL is deterministic and performs no I/O.
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string, overwrite bool) (UploadResult, error)
	Copy(ctx context.Context, fromBucket, toBucket, fromPath, toPath string) error
	Remove(ctx context.Context, buckets []string, paths []string) error
	Download(ctx context.Context, bucket, objectPath string) ([]byte, string, error)
	PublicURL(bucket, objectPath string) string
}

// Buckets names the two buckets the card platform uses: a private bucket for
// anonymous visitors' media and the public serving bucket.
type Buckets struct {
	Anon   string
	Public string
}

// All returns both bucket names, anon first. Used for best-effort cleanup
// passes that must cover either location.
func (b Buckets) All() []string {
	return []string{b.Anon, b.Public}
}
