package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func setBuild(t *testing.T, version, commit string) {
	t.Helper()
	v, c := Version, Commit
	t.Cleanup(func() { Version, Commit = v, c })
	Version, Commit = version, commit
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	assert.Equal(t, ApplicationName, info.Application)
	assert.NotEmpty(t, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestString(t *testing.T) {
	setBuild(t, "1.2.3", "unknown")
	assert.Contains(t, String(), "hlsindex version 1.2.3")
	assert.NotContains(t, String(), "commit")

	setBuild(t, "1.2.3", "0123456789abcdef")
	assert.Contains(t, String(), "commit: 01234567")
}

func TestShort(t *testing.T) {
	setBuild(t, "1.0.0", "unknown")
	assert.Equal(t, "1.0.0", Short())

	setBuild(t, "1.0.0", "abcdef0123456789")
	assert.Equal(t, "1.0.0 (abcdef01)", Short())
}

func TestUserAgent(t *testing.T) {
	setBuild(t, "2.0.0", "unknown")
	assert.Equal(t, "hlsindex/2.0.0", UserAgent())
}
