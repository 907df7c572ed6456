package blob

import (
	"context"
	"fmt"
)

// Config selects and configures a Store.
type Config struct {
	Driver string   `yaml:"driver"` // fs | memory | s3 (default fs)
	Root   string   `yaml:"root"`   // fs only
	S3     S3Config `yaml:"s3"`
}

// Validate checks the driver name and driver-specific requirements.
func (c Config) Validate() error {
	if c.Driver != "" && !IsValidDriver(c.Driver) {
		return fmt.Errorf("unknown blob driver %q; valid options: fs, memory, s3", c.Driver)
	}
	if Driver(c.Driver) == DriverS3 && c.S3.Bucket == "" {
		return fmt.Errorf("blob driver s3 requires a bucket")
	}
	return nil
}

// Open creates the Store selected by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch Driver(cfg.Driver) {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return NewS3(ctx, cfg.S3, nil)
	default:
		panic(fmt.Sprintf("unhandled blob driver %q", cfg.Driver))
	}
}
