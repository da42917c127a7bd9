package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mir00r/headmaster/internal/config"
	"github.com/mir00r/headmaster/internal/handler"
	"github.com/mir00r/headmaster/internal/middleware"
	"github.com/mir00r/headmaster/internal/transport"
	"github.com/mir00r/headmaster/pkg/logger"
)

// One-off admin commands run against the configuration, or against a
// running instance through its admin API, and then exit.

const adminRequestTimeout = 10 * time.Second

// runConfigValidation validates the current configuration
func runConfigValidation(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Println("Configuration validation passed")
	fmt.Printf("Listen: %s\n", cfg.Listen)
	fmt.Printf("Admin: %s\n", cfg.AdminAddress())
	fmt.Printf("Policy: %s\n", cfg.Policy)
	fmt.Printf("Failure clock: %s\n", cfg.FailureClock)
	fmt.Printf("Timeouts: connect=%s read=%s write=%s\n", cfg.Timeouts.Connect, cfg.Timeouts.Read, cfg.Timeouts.Write)
	fmt.Printf("Backends: %d\n", len(cfg.Backends))
	fmt.Printf("Blacklist: %d\n", len(cfg.Blacklist))

	return nil
}

// runBackends lists the live pool of a running instance
func runBackends(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	url, err := adminURL(cfg.AdminAddress(), "/backends")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), adminRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if cfg.AdminAPI.Auth.Enabled {
		token, err := issueToken(cfg, "headmaster-cli", time.Minute)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to query admin API at %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin API returned %s", resp.Status)
	}

	var backends []handler.BackendResponse
	if err := json.NewDecoder(resp.Body).Decode(&backends); err != nil {
		return fmt.Errorf("failed to decode admin response: %w", err)
	}

	fmt.Printf("Total backends: %d\n", len(backends))
	for i, backend := range backends {
		fmt.Printf("  Backend %d: %s (active: %d, last_failure: %d, unavailable: %t)\n",
			i+1, backend.Address, backend.ActiveConnections, backend.LastFailure, backend.Unavailable)
	}

	return nil
}

// runIssueToken prints a bearer token for the admin API
func runIssueToken(configPath string, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.AdminAPI.Auth.Enabled {
		return fmt.Errorf("admin_api.auth is not enabled")
	}

	subject := "admin"
	if len(args) > 0 {
		subject = args[0]
	}

	token, err := issueToken(cfg, subject, 24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func issueToken(cfg *config.Config, subject string, ttl time.Duration) (string, error) {
	quiet, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	if err != nil {
		return "", err
	}
	auth, err := middleware.NewJWTAuthMiddleware(cfg.AdminAPI.Auth, quiet)
	if err != nil {
		return "", err
	}
	return auth.IssueToken(subject, ttl)
}

// adminURL builds an HTTP URL for a TCP admin endpoint, replacing an
// unspecified host with loopback
func adminURL(address transport.BindAddress, path string) (string, error) {
	if address.Network() != transport.NetworkTCP {
		return "", fmt.Errorf("admin endpoint %s is not TCP", address)
	}

	host, port, err := net.SplitHostPort(address.Address())
	if err != nil {
		return "", err
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + path, nil
}

// runAdminProcess handles admin process execution and returns the exit code
func runAdminProcess(command, configPath string, args []string) int {
	var err error

	switch command {
	case "validate-config", "validate":
		err = runConfigValidation(configPath)
	case "backends":
		err = runBackends(configPath)
	case "token":
		err = runIssueToken(configPath, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		fmt.Fprintln(os.Stderr, "Usage: headmaster -admin <command>")
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  validate-config - Validate configuration")
		fmt.Fprintln(os.Stderr, "  backends        - List the backends of a running instance")
		fmt.Fprintln(os.Stderr, "  token [subject] - Issue an admin API bearer token")
		return 1
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Command failed: %v\n", err)
		return 1
	}
	return 0
}
