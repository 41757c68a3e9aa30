// Package selfcheck validates optional external dependencies at startup so
// a misconfigured daemon fails fast instead of discovering a broken Vault
// token or unreachable storage account on the first request.
package selfcheck

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dengwxn/nexus/internal/config"
)

// Dependencies surfaces optional clients required for checks.
type Dependencies struct {
	Vault interface{ HealthCheck(context.Context) error }
}

// Run executes startup dependency validation. A non-nil error means the
// daemon should refuse to start.
func Run(ctx context.Context, cfg *config.Config, deps Dependencies) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if cfg.Vault.Enabled {
		if deps.Vault == nil {
			return fmt.Errorf("vault enabled but no client available for health check")
		}
		if err := deps.Vault.HealthCheck(ctx); err != nil {
			return fmt.Errorf("vault health check failed: %w", err)
		}
	}
	if cfg.TraceSink.AzureBlob.Enabled {
		if err := checkAzureEndpoint(ctx, cfg.TraceSink.AzureBlob.ContainerURL); err != nil {
			return err
		}
		if cfg.TraceSink.AzureBlob.LocalBufferPath != "" {
			if err := ensureWritableDir(filepath.Dir(cfg.TraceSink.AzureBlob.LocalBufferPath)); err != nil {
				return err
			}
		}
	}
	if cfg.NetInfo.GeoIPPath != "" {
		if err := ensureReadableFile(cfg.NetInfo.GeoIPPath); err != nil {
			return err
		}
	}
	return nil
}

func checkAzureEndpoint(ctx context.Context, containerURL string) error {
	url := strings.TrimSpace(containerURL)
	if url == "" {
		return fmt.Errorf("trace_sink.azure_blob.container_url required when enabled")
	}
	host := url
	if idx := strings.Index(host, "://"); idx >= 0 {
		host = host[idx+3:]
	}
	if idx := strings.IndexAny(host, "/?"); idx >= 0 {
		host = host[:idx]
	}
	if !strings.Contains(host, ":") {
		host += ":443"
	}
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("azure blob connectivity (%s) failed: %w", host, err)
	}
	_ = conn.Close()
	return nil
}

func ensureWritableDir(dir string) error {
	path := strings.TrimSpace(dir)
	if path == "" {
		return fmt.Errorf("local buffer directory not configured")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create local buffer directory %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(path, ".probe-*")
	if err != nil {
		return fmt.Errorf("write probe file in %s: %w", path, err)
	}
	tmp.Close()
	os.Remove(tmp.Name())
	_, err = filepath.Abs(path)
	return err
}

func ensureReadableFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("geoip database %s not readable: %w", path, err)
	}
	return f.Close()
}
