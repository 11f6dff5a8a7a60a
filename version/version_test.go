package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShort(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{"dev build", Info{CommitHash: "dev", Version: "dev"}, "dev"},
		{"tagged without hash", Info{CommitHash: "dev", Version: "v1.2.0"}, "v1.2.0"},
		{"full hash", Info{CommitHash: "0123456789abcdef", Version: "v1.2.0"}, "0123456"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.Short())
		})
	}
}

func TestString(t *testing.T) {
	s := Info{CommitHash: "0123456789", Version: "v1.0.0", BuildTime: "today", GoVersion: "go1.24", Platform: "linux/amd64"}.String()
	assert.Equal(t, "ticketpulse v1.0.0 (commit 0123456, built today, go1.24 linux/amd64)", s)
}
