//go:build !gcp

package snapshot

import (
	"context"
	"fmt"
)

func openGCS(context.Context, Config) (Store, error) {
	return nil, fmt.Errorf("GCS storage is not enabled in this build (use -tags gcp)")
}
