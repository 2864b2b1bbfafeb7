package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# beatsd configuration
# sizes accept units (10MiB, 64MB); durations use Go syntax (60s, 5m).

`

// Template renders Default() as a complete beatsd.toml.
func Template() (string, error) {
	def := Default()
	sess := def.Server.Session
	raw := fileConfig{
		ListenAddr:              def.Server.ListenAddr,
		AdminAddr:               def.AdminAddr,
		CORSOrigins:             []string{},
		MaxFrameSize:            humanize.IBytes(uint64(def.Server.Limits.MaxFrameBytes)),
		MaxInflateSize:          humanize.IBytes(uint64(def.Server.Limits.MaxInflateBytes)),
		MaxWindowSize:           int64(def.Server.Limits.MaxWindowSize),
		ClientInactivityTimeout: sess.ClientInactivityTimeout.String(),
		KeepAliveInterval:       sess.KeepAliveInterval.String(),
		WriteTimeout:            sess.WriteTimeout.String(),
		HandshakeTimeout:        sess.HandshakeTimeout.String(),
		Sink:                    def.Sink,
		QueueSize:               def.Pipeline.QueueSize,
		Workers:                 def.Pipeline.Workers,
		EnqueueTimeout:          def.Pipeline.EnqueueTimeout.String(),
		TLS: fileTLS{
			VerifyMode:   string(sess.TLS.VerifyMode),
			SecurityMode: string(sess.SecurityMode),
		},
		Log: fileLog{
			Level:     def.Log.Level.String(),
			Timestamp: def.Log.Timestamp,
			Format:    "console",
		},
	}
	body, err := toml.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return templateHeader + string(body), nil
}

func WriteTemplate(path string, overwrite bool) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config template path required")
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	body, err := Template()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(body), 0o600)
}
