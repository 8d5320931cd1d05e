package monitor

import (
	"net/http"
	"time"

	"github.com/hamed0406/servicestatus/internal/config"
	"github.com/hamed0406/servicestatus/internal/probe"
)

// Built-in check names.
const (
	CheckInternet = "internet"
	CheckPlatform = "platform"
	CheckSDK      = "sdk"
	CheckAuth     = "auth"
)

// BuiltIn describes one of the fixed service checks.
type BuiltIn struct {
	Name    string
	Label   string // used in notifications
	LastKey string // key/value entry holding the last success timestamp
	Request probe.Request
	Client  probe.Requester // nil means the monitor's HTTP client
}

// BuiltIns derives the fixed checks from cfg. With ManualInternetCheck the
// internet check dials the reachability address instead of fetching
// InternetURL.
func BuiltIns(cfg config.Config) []BuiltIn {
	timeout := requestTimeout(cfg)
	get := func(url string) probe.Request {
		return probe.Request{Method: http.MethodGet, URL: url, Timeout: timeout, FollowRedirects: true}
	}

	internet := BuiltIn{
		Name:    CheckInternet,
		Label:   "Internet",
		LastKey: "last_internet_ok",
		Request: get(cfg.InternetURL),
	}
	if cfg.ManualInternetCheck {
		addr := cfg.Targets.ReachabilityAddress
		if addr == "" {
			addr = probe.DefaultReachabilityAddress
		}
		// the URL only has to pass validation; the dialer ignores it
		internet.Request = get("http://" + addr)
		internet.Client = &probe.Reachability{Address: addr}
	}

	platform := get(cfg.Targets.PlatformURL)
	platform.Method = http.MethodPost
	platform.Body = cfg.Targets.PlatformBody

	return []BuiltIn{
		internet,
		{Name: CheckPlatform, Label: "Boomlings Server", LastKey: "last_platform_ok", Request: platform},
		{Name: CheckSDK, Label: "GeodeSDK Server", LastKey: "last_sdk_ok", Request: get(cfg.Targets.SDKURL)},
		{Name: CheckAuth, Label: "Argon Server", LastKey: "last_auth_ok", Request: get(cfg.Targets.AuthURL)},
	}
}

func requestTimeout(cfg config.Config) time.Duration {
	if cfg.TimeoutSeconds <= 0 {
		return probe.DefaultTimeout
	}
	return time.Duration(cfg.TimeoutSeconds * float64(time.Second))
}
