package validation

import (
	"net"
	"strings"
	"testing"
)

func TestNewURLValidator(t *testing.T) {
	v := NewURLValidator()
	if v.AllowLocalhost || v.AllowPrivateIPs {
		t.Error("default validator must block localhost and private IPs")
	}
	if v.MaxLength != 2048 {
		t.Errorf("Expected MaxLength to be 2048, got %d", v.MaxLength)
	}

	p := NewPermissiveURLValidator()
	if !p.AllowLocalhost || !p.AllowPrivateIPs {
		t.Error("permissive validator must allow localhost and private IPs")
	}
}

func TestValidateAndNormalize(t *testing.T) {
	v := NewURLValidator()

	tests := []struct {
		name        string
		input       string
		expected    string
		shouldError bool
		errorMsg    string
	}{
		{name: "empty URL", input: "", shouldError: true, errorMsg: "URL cannot be empty"},
		{name: "whitespace-only URL", input: "   ", shouldError: true, errorMsg: "URL cannot be empty"},
		{name: "valid HTTPS URL", input: "https://apod.nasa.gov/apod/image/2401/a.jpg", expected: "https://apod.nasa.gov/apod/image/2401/a.jpg"},
		{name: "missing scheme gets https", input: "apod.nasa.gov/apod.html", expected: "https://apod.nasa.gov/apod.html"},
		{name: "ftp rejected", input: "ftp://apod.nasa.gov/a.jpg", shouldError: true, errorMsg: "http or https"},
		{name: "script characters rejected", input: "https://apod.nasa.gov/<script>", shouldError: true, errorMsg: "invalid characters"},
		{name: "localhost rejected", input: "http://localhost:8080/x", shouldError: true, errorMsg: "localhost"},
		{name: "private IP rejected", input: "http://192.168.1.10/x", shouldError: true, errorMsg: "private IP"},
		{name: "traversal rejected", input: "https://apod.nasa.gov/../etc/passwd", shouldError: true, errorMsg: "traversal"},
		{name: "too long", input: "https://apod.nasa.gov/" + strings.Repeat("a", 2100), shouldError: true, errorMsg: "too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.ValidateAndNormalize(tt.input)
			if tt.shouldError {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil (result %q)", tt.errorMsg, got)
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestValidateMediaURL(t *testing.T) {
	v := NewURLValidator()

	got, err := v.ValidateMediaURL("//www.youtube.com/embed/abc?rel=0")
	if err != nil {
		t.Fatalf("protocol-relative URL should be accepted: %v", err)
	}
	if got != "https://www.youtube.com/embed/abc?rel=0" {
		t.Errorf("got %q", got)
	}

	if _, err := v.ValidateMediaURL("image/2401/a.jpg"); err == nil {
		t.Error("relative media URL should be rejected")
	}
}

func TestValidateEndpoint(t *testing.T) {
	v := NewPermissiveURLValidator()

	if _, err := v.ValidateEndpoint("api.nasa.gov/planetary/apod"); err == nil {
		t.Error("endpoint without scheme should be rejected")
	}
	got, err := v.ValidateEndpoint("http://127.0.0.1:8888/.netlify/functions/get-api-key")
	if err != nil {
		t.Fatalf("permissive validator should accept loopback endpoint: %v", err)
	}
	if HostOf(got) != "127.0.0.1" {
		t.Errorf("HostOf = %q", HostOf(got))
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"172.32.0.1", false},
		{"192.168.0.1", true},
		{"127.0.0.1", true},
		{"8.8.8.8", false},
		{"fd00::1", true},
		{"fe80::1", true},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		if got := isPrivateIP(net.ParseIP(tt.ip)); got != tt.private {
			t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.private)
		}
	}
}

func TestHostOf(t *testing.T) {
	if got := HostOf("https://API.nasa.gov:443/planetary/apod"); got != "api.nasa.gov" {
		t.Errorf("HostOf = %q, want api.nasa.gov", got)
	}
	if got := HostOf("::bad"); got != "" {
		t.Errorf("HostOf(bad) = %q, want empty", got)
	}
}
