package version

import (
	"runtime"
	"testing"
)

// TestInfo_String verifies the one-line format and commit shortening.
func TestInfo_String(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{
			name: "with commit",
			info: Info{Version: "1.2.3", Commit: "0123456789abcdef", GoVersion: "go1.25.4", Platform: "linux/amd64"},
			want: "debugctl 1.2.3 (0123456789ab) go1.25.4 linux/amd64",
		},
		{
			name: "without commit",
			info: Info{Version: "1.2.3", GoVersion: "go1.25.4", Platform: "linux/amd64"},
			want: "debugctl 1.2.3 go1.25.4 linux/amd64",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.String(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

// TestGet verifies the running binary reports its version.
func TestGet(t *testing.T) {
	info := Get()
	if info.Version != Version {
		t.Errorf("expected %s, got %s", Version, info.Version)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("expected %s, got %s", runtime.Version(), info.GoVersion)
	}
}
