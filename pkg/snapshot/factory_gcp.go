//go:build gcp

package snapshot

import "context"

func openGCS(ctx context.Context, cfg Config) (Store, error) {
	return NewGCSStore(ctx, GCSStoreConfig{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
}
