package session

import "time"

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// VerifyMode selects client certificate verification on the server.
type VerifyMode string

const (
	VerifyNone      VerifyMode = "none"
	VerifyPeer      VerifyMode = "peer"
	VerifyForcePeer VerifyMode = "force_peer"
)

// TLSConfig holds certificate paths and verification policy.
type TLSConfig struct {
	Enabled            bool
	CertFile           string
	KeyFile            string
	CAFile             string
	VerifyMode         VerifyMode
	ServerName         string
	InsecureSkipVerify bool
}

// BackoffConfig defines sender retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport timeouts and security for one connection.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// ClientInactivityTimeout closes a connection that sends nothing while
	// no batch is in flight.
	ClientInactivityTimeout time.Duration
	WriteTimeout            time.Duration
	// KeepAliveInterval is the writer-idle period after which a keep-alive
	// ack goes out while a batch is in flight.
	KeepAliveInterval time.Duration
	AckTimeout        time.Duration
	SecurityMode      SecurityMode
	TLS               TLSConfig
	Backoff           BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:          5 * time.Second,
		HandshakeTimeout:        10 * time.Second,
		ClientInactivityTimeout: 60 * time.Second,
		WriteTimeout:            15 * time.Second,
		KeepAliveInterval:       5 * time.Second,
		AckTimeout:              30 * time.Second,
		SecurityMode:            SecurityModeDevelopment,
		TLS: TLSConfig{
			VerifyMode: VerifyNone,
		},
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero durations from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ClientInactivityTimeout <= 0 {
		c.ClientInactivityTimeout = def.ClientInactivityTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = def.KeepAliveInterval
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.SecurityMode == "" {
		c.SecurityMode = def.SecurityMode
	}
	if c.TLS.VerifyMode == "" {
		c.TLS.VerifyMode = def.TLS.VerifyMode
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
