package uid

import (
	"strings"
	"sync"
	"testing"

	"github.com/hatlonely/aggx/ref"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDGenerator(t *testing.T) {
	tests := []struct {
		name        string
		options     *UUIDOptions
		length      int
		versionChar byte
	}{
		{name: "default", options: nil, length: 32, versionChar: '4'},
		{name: "v4 with hyphens", options: &UUIDOptions{WithHyphens: true}, length: 36, versionChar: '4'},
		{name: "v7", options: &UUIDOptions{Version: "v7", WithHyphens: true}, length: 36, versionChar: '7'},
		{name: "v6", options: &UUIDOptions{Version: "v6"}, length: 32, versionChar: '6'},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewUUIDGeneratorWithOptions(tt.options)
			require.NoError(t, err)

			id := g.Generate()
			assert.Len(t, id, tt.length)
			if tt.length == 36 {
				assert.Equal(t, 4, strings.Count(id, "-"))
				assert.Equal(t, tt.versionChar, id[14])
			} else {
				assert.NotContains(t, id, "-")
				assert.Equal(t, tt.versionChar, id[12])
			}
		})
	}

	_, err := NewUUIDGeneratorWithOptions(&UUIDOptions{Version: "v9"})
	assert.Error(t, err)
}

func TestNewGeneratorWithOptions(t *testing.T) {
	g, err := NewGeneratorWithOptions(nil)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := g.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)

	g, err = NewGeneratorWithOptions(&ref.TypeOptions{Type: "UUIDGenerator", Options: &UUIDOptions{Version: "v7", WithHyphens: true}})
	require.NoError(t, err)
	assert.Len(t, g.Generate(), 36)

	_, err = NewGeneratorWithOptions(&ref.TypeOptions{Type: "SnowflakeGenerator"})
	assert.Error(t, err)
}
