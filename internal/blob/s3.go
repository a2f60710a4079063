package blob

import (
	"context"

	infraS3 "gemini/internal/infra/blob/s3"
)

// S3Config re-exports the infra S3 configuration type.
type S3Config = infraS3.Config

// MockS3 is the in-process fake S3 transport used by tests across packages.
type MockS3 = infraS3.MockServer

// NewS3 constructs an S3-backed blob.Store from the provided configuration.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return newS3(ctx, cfg)
}

func newS3(ctx context.Context, cfg S3Config) (*infraS3.Store, error) {
	return infraS3.New(ctx, cfg)
}

// NewMockS3 returns an S3 store wired to a fresh fake transport, and the fake.
func NewMockS3() (Store, *MockS3, error) {
	m := infraS3.NewMockServer()
	st, err := infraS3.NewWithMock(m)
	if err != nil {
		return nil, nil, err
	}
	return st, m, nil
}
