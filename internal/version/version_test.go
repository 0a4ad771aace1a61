package version_test

import (
	"strings"
	"testing"

	"github.com/ramiqadoumi/go-agent-flow/internal/version"
)

func TestBanner(t *testing.T) {
	b := version.Banner("worker")
	if !strings.HasPrefix(b, "worker "+version.Version) {
		t.Errorf("banner should start with service and version, got: %q", b)
	}
	if !strings.Contains(b, version.GoVersion()) {
		t.Errorf("banner should contain go version, got: %q", b)
	}
}
