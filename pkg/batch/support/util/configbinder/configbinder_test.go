package configbinder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readerProps struct {
	ChunkSize int           `yaml:"chunk_size"`
	Timeout   time.Duration `yaml:"timeout"`
	Enabled   bool          `yaml:"enabled"`
	Kinds     []string      `yaml:"kinds"`
}

func TestBindStringProperties_ConvertsTypes(t *testing.T) {
	var p readerProps
	err := BindStringProperties(map[string]string{
		"chunk_size": "50",
		"timeout":    "1500ms",
		"enabled":    "true",
		"kinds":      "Transient,ItemWrite",
	}, &p)

	require.NoError(t, err)
	assert.Equal(t, 50, p.ChunkSize)
	assert.Equal(t, 1500*time.Millisecond, p.Timeout)
	assert.True(t, p.Enabled)
	assert.Equal(t, []string{"Transient", "ItemWrite"}, p.Kinds)
}

func TestBindProperties_ReportsTarget(t *testing.T) {
	var p readerProps
	err := BindProperties(map[string]interface{}{"chunk_size": "many"}, &p)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "readerProps")
}

func TestBindProperties_EmptyLeavesTarget(t *testing.T) {
	p := readerProps{ChunkSize: 7}
	require.NoError(t, BindProperties(nil, &p))
	assert.Equal(t, 7, p.ChunkSize)
}
