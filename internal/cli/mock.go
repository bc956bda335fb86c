package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/studiowebux/wsprobe/internal/config"
	"github.com/studiowebux/wsprobe/internal/mock"
)

// MockOptions contains options for the scripted mock server
type MockOptions struct {
	ConfigPath string
	Host       string // overrides the config host
	Port       int    // overrides the config port
	Logger     zerolog.Logger
}

// Mock runs the mock server until ctx is cancelled
func Mock(ctx context.Context, opts MockOptions) error {
	path, err := config.ExpandHome(opts.ConfigPath)
	if err != nil {
		return err
	}

	cfg, err := mock.LoadConfig(path)
	if err != nil {
		return err
	}
	if opts.Host != "" {
		cfg.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Port = opts.Port
	}

	server, err := mock.NewServer(cfg, filepath.Dir(path), mock.WithLogger(opts.Logger))
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Mock server listening on %s (ctrl+c to stop)\n", server.GetAddress())

	for {
		select {
		case <-server.NotifyChannel():
			for _, entry := range server.DrainLogs() {
				ev := opts.Logger.Info()
				if entry.CloseCode != 0 {
					ev = opts.Logger.Warn().Int("close_code", entry.CloseCode)
				}
				ev.Str("remote", entry.RemoteAddr).
					Str("rule", entry.MatchedRule).
					Int("replies", entry.Replies).
					Dur("took", entry.Duration).
					Msg(entry.Message)
			}
		case <-ctx.Done():
			if err := server.Stop(); err != nil {
				return fmt.Errorf("failed to stop mock server: %w", err)
			}
			return nil
		}
	}
}
