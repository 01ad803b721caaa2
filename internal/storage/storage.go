package storage

import "context"

// BucketCreator creates buckets on an object-storage data plane.
type BucketCreator interface {
	CreateBucket(ctx context.Context, name string) error
}
