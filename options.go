package unarc

import (
	"io"
	"log/slog"
	"math"
	"strings"
)

// maxEntrySize is the hard cap on a single decoded file.
const maxEntrySize = math.MaxInt32

// config collects settings shared by all decoder constructors.
type config struct {
	scratchDir      string
	logger          *slog.Logger
	caseInsensitive bool
	maxFileSize     int64
}

// Option configures a decoder constructor.
type Option func(*config)

// WithScratchDir places the decoder's scratch file in dir instead of the
// OS temp directory.
func WithScratchDir(dir string) Option {
	return func(c *config) {
		c.scratchDir = dir
	}
}

// WithLogger enables debug logging of decode progress. A nil logger
// discards all output (the default).
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithCaseInsensitiveNames makes Fetch and name lookups match file names
// case-insensitively. Decoded archives whose entry names collide only by
// case then fail construction with a key conflict.
func WithCaseInsensitiveNames() Option {
	return func(c *config) {
		c.caseInsensitive = true
	}
}

// WithMaxFileSize lowers the per-file size limit below the 2 GiB hard
// cap. Values <= 0 or above the hard cap keep the default.
func WithMaxFileSize(limit int64) Option {
	return func(c *config) {
		if limit > 0 && limit <= maxEntrySize {
			c.maxFileSize = limit
		}
	}
}

func newConfig(opts []Option) *config {
	c := &config{maxFileSize: maxEntrySize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// log returns the configured logger, falling back to a discard logger.
func (c *config) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.logger
}

// keyEq returns the key equality function for the configured case mode.
func (c *config) keyEq() func(a, b string) bool {
	if c.caseInsensitive {
		return strings.EqualFold
	}
	return nil
}
