package monitor

import (
	"net/http"
	"testing"
	"time"

	"github.com/hamed0406/servicestatus/internal/config"
	"github.com/hamed0406/servicestatus/internal/probe"
)

func TestBuiltIns_Defaults(t *testing.T) {
	cfg := config.DefaultConfig()
	got := BuiltIns(cfg)
	if len(got) != 4 {
		t.Fatalf("want 4 built-ins, got %d", len(got))
	}

	want := map[string]string{
		CheckInternet: "last_internet_ok",
		CheckPlatform: "last_platform_ok",
		CheckSDK:      "last_sdk_ok",
		CheckAuth:     "last_auth_ok",
	}
	for _, b := range got {
		if want[b.Name] != b.LastKey {
			t.Fatalf("%s: last key %q", b.Name, b.LastKey)
		}
		if !probe.ValidURL(b.Request.URL) {
			t.Fatalf("%s: invalid url %q", b.Name, b.Request.URL)
		}
		if !b.Request.FollowRedirects || b.Request.TransferBody {
			t.Fatalf("%s: unexpected request policy %+v", b.Name, b.Request)
		}
		if b.Request.Timeout != 5*time.Second {
			t.Fatalf("%s: timeout %v", b.Name, b.Request.Timeout)
		}
		if b.Client != nil {
			t.Fatalf("%s: should use the shared http client", b.Name)
		}
	}

	platform := got[1]
	if platform.Request.Method != http.MethodPost || platform.Request.Body != cfg.Targets.PlatformBody {
		t.Fatalf("platform check should POST the form body: %+v", platform.Request)
	}
}

func TestBuiltIns_ManualInternetCheck(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ManualInternetCheck = true
	cfg.InternetURL = ""
	cfg.Targets.ReachabilityAddress = "9.9.9.9:53"

	internet := BuiltIns(cfg)[0]
	r, ok := internet.Client.(*probe.Reachability)
	if !ok {
		t.Fatalf("want reachability dialer, got %T", internet.Client)
	}
	if r.Address != "9.9.9.9:53" {
		t.Fatalf("address %q", r.Address)
	}
	if !probe.ValidURL(internet.Request.URL) {
		t.Fatalf("placeholder url must validate: %q", internet.Request.URL)
	}
}

func TestRequestTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.TimeoutSeconds = 0
	if got := requestTimeout(cfg); got != probe.DefaultTimeout {
		t.Fatalf("want default, got %v", got)
	}
	cfg.TimeoutSeconds = 1.5
	if got := requestTimeout(cfg); got != 1500*time.Millisecond {
		t.Fatalf("want 1.5s, got %v", got)
	}
}
