package database

import (
	"fmt"
	"net/url"
	"time"
)

// Config describes how the SQLite file is opened.
type Config struct {
	Path     string
	ReadOnly bool

	// Zero values fall back to the defaults set by NewConfig.
	PoolSize    int
	MaxConnAge  time.Duration
	BusyTimeout time.Duration
	// CacheKiB is passed to PRAGMA cache_size as a negative KiB count.
	CacheKiB int
}

// NewConfig returns a read-write configuration for path.
func NewConfig(path string) *Config {
	return &Config{
		Path:        path,
		PoolSize:    8,
		MaxConnAge:  time.Hour,
		BusyTimeout: 5 * time.Second,
		CacheKiB:    32 * 1024,
	}
}

// dsn builds the go-sqlite3 connection string. Journal mode, sync level and
// busy timeout are set here so every pooled connection gets them.
func (c *Config) dsn() string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", fmt.Sprint(c.BusyTimeout.Milliseconds()))
	q.Set("_foreign_keys", fmt.Sprint(!c.ReadOnly))
	if c.ReadOnly {
		q.Set("mode", "ro")
		q.Set("_query_only", "true")
	}
	return "file:" + c.Path + "?" + q.Encode()
}

func (c *Config) mode() string {
	if c.ReadOnly {
		return "read-only"
	}
	return "read-write"
}
