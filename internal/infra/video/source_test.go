package video

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safevision/ppe-detection-service/internal/pipeline"
)

func TestOpenRejectsUnsupportedContainers(t *testing.T) {
	src := NewSource()
	for _, name := range []string{"clip.mkv", "clip.webm", "clip.txt", "clip"} {
		_, err := src.Open(filepath.Join(t.TempDir(), name))
		require.Error(t, err, name)
		assert.Equal(t, pipeline.KindUnreadableVideo, pipeline.KindOf(err), name)
	}
}

func TestOpenAcceptsExtensionCaseInsensitively(t *testing.T) {
	src := NewSource()
	// The file does not exist, so Open still fails, but past the extension
	// gate: the error must come from the decoder, not the container check.
	_, err := src.Open(filepath.Join(t.TempDir(), "CLIP.MP4"))
	require.Error(t, err)
	assert.Equal(t, pipeline.KindUnreadableVideo, pipeline.KindOf(err))
	assert.NotContains(t, err.Error(), "unsupported container")
}
