package reconcile

import "time"

// Config controls the reconciliation sweep.
type Config struct {
	Interval         time.Duration `env:"RECONCILE_INTERVAL" envDefault:"5m"`
	DriftThreshold   time.Duration `env:"RECONCILE_DRIFT_THRESHOLD" envDefault:"6h"`
	BatchSize        int           `env:"RECONCILE_BATCH_SIZE" envDefault:"200"`
	Concurrency      int           `env:"RECONCILE_CONCURRENCY" envDefault:"4"`
	FetchRate        float64       `env:"RECONCILE_FETCH_RATE" envDefault:"5"` // Remote status fetches per second
	FetchAttempts    int           `env:"RECONCILE_FETCH_ATTEMPTS" envDefault:"3"`
	FetchBackoff     time.Duration `env:"RECONCILE_FETCH_BACKOFF" envDefault:"500ms"` // Initial retry interval
	FetchTimeout     time.Duration `env:"RECONCILE_FETCH_TIMEOUT" envDefault:"10s"`
	ReceiptRetention time.Duration `env:"RECONCILE_RECEIPT_RETENTION" envDefault:"720h"`
}

// DefaultConfig returns the values used when no environment is loaded.
func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Minute,
		DriftThreshold:   6 * time.Hour,
		BatchSize:        200,
		Concurrency:      4,
		FetchRate:        5,
		FetchAttempts:    3,
		FetchBackoff:     500 * time.Millisecond,
		FetchTimeout:     10 * time.Second,
		ReceiptRetention: 30 * 24 * time.Hour,
	}
}

// normalize replaces unusable values with defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = d.DriftThreshold
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.FetchRate <= 0 {
		c.FetchRate = d.FetchRate
	}
	if c.FetchAttempts <= 0 {
		c.FetchAttempts = d.FetchAttempts
	}
	if c.FetchBackoff <= 0 {
		c.FetchBackoff = d.FetchBackoff
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	return c
}
