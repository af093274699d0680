package trackpost

import (
	"errors"
	"time"

	"github.com/leshachaplin/trackpost/internal/piwik"
)

// BulkEncoding selects the multi-event wire shape; see the piwik package.
type BulkEncoding = piwik.BulkEncoding

const (
	BulkEncodingCurrent = piwik.BulkEncodingCurrent
	BulkEncodingLegacy  = piwik.BulkEncodingLegacy
)

const (
	defaultSessionTimeout   = 120 * time.Second
	defaultDispatchInterval = 120 * time.Second
	defaultSampleRate       = 100
)

// Config is the full tracker configuration. Zero values get the documented
// defaults applied by New.
type Config struct {
	// BaseURL is the collection server base URL, without the tracking
	// endpoint path component. Required unless Debug is set.
	BaseURL string `mapstructure:"base_url"`
	// SiteID identifies the tracked application on the collection server.
	SiteID string `mapstructure:"site_id"`
	// AuthenticationToken enables bulk-encoded multi-event requests. Without
	// it every record is delivered as a sequential single-event request.
	AuthenticationToken string `mapstructure:"authentication_token"`
	// BulkEncoding picks the bulk wire shape for older servers. Defaults to
	// BulkEncodingCurrent.
	BulkEncoding BulkEncoding `mapstructure:"bulk_encoding"`

	// QueuePath is the path of the local SQLite database holding queued
	// events and durable tracker state.
	QueuePath string `mapstructure:"queue_path"`

	// PrefixingDisabled turns off the per-kind name prefixes (screen/event/
	// exception/social). Prefixing is on by default.
	PrefixingDisabled bool `mapstructure:"prefixing_disabled"`
	// Debug bypasses the network entirely: batches are logged and treated as
	// delivered.
	Debug bool `mapstructure:"debug"`
	// OptOut is the initial opt-out value for a fresh installation. A value
	// persisted by SetOptOut takes precedence on later runs.
	OptOut bool `mapstructure:"opt_out"`
	// SampleRate is the percentage of events retained, 1-100. Default 100.
	SampleRate int `mapstructure:"sample_rate"`
	// IncludeLocationInformation is accepted for protocol compatibility and
	// must be set before first use; no sensor integration is performed.
	IncludeLocationInformation bool `mapstructure:"include_location_information"`

	// SessionStart forces a new session on the first tracked event.
	SessionStart bool `mapstructure:"session_start"`
	// SessionTimeout rolls the session id after this much inactivity.
	// Default 120s.
	SessionTimeout time.Duration `mapstructure:"session_timeout"`

	// DispatchInterval controls automatic dispatch: nil defaults to 120s, a
	// positive value dispatches periodically, zero dispatches immediately
	// after every accepted enqueue, and a negative value disables automatic
	// dispatch entirely (manual Dispatch only).
	DispatchInterval *time.Duration `mapstructure:"dispatch_interval"`
	// MaxQueuedEvents bounds the queue; further events are rejected, not
	// overwritten. Default 500.
	MaxQueuedEvents int `mapstructure:"max_queued_events"`
	// EventsPerRequest bounds a single delivery batch. Default 20.
	EventsPerRequest int `mapstructure:"events_per_request"`
	// MaxBatchesPerCycle caps batches per dispatch cycle; zero drains until
	// the queue is empty or a delivery fails.
	MaxBatchesPerCycle int `mapstructure:"max_batches_per_cycle"`
	// RequestTimeout bounds a single transport request.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// AppName and AppVersion are reported as fixed-index custom variables on
	// every event.
	AppName    string `mapstructure:"app_name"`
	AppVersion string `mapstructure:"app_version"`
}

// Duration is a convenience for the DispatchInterval pointer field.
func Duration(d time.Duration) *time.Duration {
	return &d
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = defaultSessionTimeout
	}
	if c.DispatchInterval == nil {
		c.DispatchInterval = Duration(defaultDispatchInterval)
	}
	return c
}

func (c Config) validate() error {
	if c.QueuePath == "" {
		return errors.New("config: queue path is required")
	}
	if !c.Debug && c.BaseURL == "" {
		return errors.New("config: base url is required")
	}
	if !c.Debug && c.SiteID == "" {
		return errors.New("config: site id is required")
	}
	return nil
}
