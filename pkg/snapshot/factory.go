package snapshot

import (
	"context"
)

// Config selects the backend. GCSBucket wins over S3Bucket; with neither
// set, blobs go to Dir.
type Config struct {
	Dir        string
	Prefix     string
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	GCSBucket  string
}

// Open returns the store Config selects.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch {
	case cfg.GCSBucket != "":
		return openGCS(ctx, cfg)
	case cfg.S3Bucket != "":
		region := cfg.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.S3Bucket,
			Region:   region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.Prefix,
		})
	default:
		dir := cfg.Dir
		if dir == "" {
			dir = "snapshots"
		}
		return NewFileStore(dir)
	}
}
