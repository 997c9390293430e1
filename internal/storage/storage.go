package storage

import "context"

// UploadOptions conveys upload destination metadata.
type UploadOptions struct {
	Bucket    string
	KeyPrefix string
}

// Service resolves a locally staged file into a durable, publicly
// addressable URL.
type Service interface {
	UploadFile(ctx context.Context, localPath string, opts UploadOptions) (string, error)
}
