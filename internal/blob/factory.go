package blob

import (
	"context"
	"fmt"
)

// Config selects and configures a blob backend.
type Config struct {
	Driver Driver
	// Root is the directory for the fs driver.
	Root string
	S3   S3Config
	// EnsureBucket creates the S3 bucket when missing.
	EnsureBucket bool
}

// Open returns the Store selected by cfg.Driver (default fs).
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverS3:
		st, err := newS3(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		if cfg.EnsureBucket {
			if err := st.EnsureBucket(ctx); err != nil {
				return nil, err
			}
		}
		return st, nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// ParseDriver validates a driver name.
func ParseDriver(s string) (Driver, error) {
	switch d := Driver(s); d {
	case DriverFilesystem, DriverS3, DriverMemory:
		return d, nil
	}
	return "", fmt.Errorf("unknown blob driver %q", s)
}
