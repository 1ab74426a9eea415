package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileInfoFormattedSize(t *testing.T) {
	assert.Equal(t, "512 B", FileInfo{SizeBytes: 512}.FormattedSize())
	assert.Equal(t, "1.5 KiB", FileInfo{SizeBytes: 1536}.FormattedSize())
	assert.Equal(t, "10 MiB", FileInfo{SizeBytes: 10 << 20}.FormattedSize())
}
