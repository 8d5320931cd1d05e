// cmd/preflight/main.go
package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hamed0406/servicestatus/internal/config"
	"github.com/hamed0406/servicestatus/internal/scheduler"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	path := os.Getenv("STATUS_CONFIG")
	if path == "" {
		path = "status.yaml"
	}
	if _, err := os.Stat(path); err != nil {
		warn(path + " not found; defaults will be used.")
	}

	cfg, err := config.Load(path)
	if err != nil {
		fail(err.Error())
	}
	cfg = config.FromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		fail(err.Error())
	}
	ok("config " + path + " is valid")

	if cfg.RefreshRate <= 0 {
		warn("refresh_rate <= 0; the default interval will be used.")
	}
	ok("check interval " + scheduler.Normalize(cfg.RefreshRate).String())

	if cfg.ManualInternetCheck {
		ok("internet check dials " + cfg.Targets.ReachabilityAddress)
	} else {
		ok("internet check fetches " + cfg.InternetURL)
	}

	if cfg.DataDir == "" {
		warn("data_dir empty; custom endpoints will not survive a restart.")
	} else {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			fail("data_dir not writable: " + err.Error())
		}
		ok("endpoints stored in " + filepath.Join(cfg.DataDir, "status.json"))
	}

	host, port, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		fail("addr " + strconv.Quote(cfg.Addr) + " is not host:port")
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		warn("addr " + cfg.Addr + " is reachable from other hosts and the API has no auth.")
	} else {
		ok("API on " + net.JoinHostPort(host, port))
	}

	if cfg.SlackWebhook == "" {
		warn("SLACK_WEBHOOK empty; notifications go to the log only.")
	} else {
		ok("Slack notifications enabled")
	}

	ok("preflight passed")
}
