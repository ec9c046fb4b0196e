package imagehash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStdlibDecoderMissingFile(t *testing.T) {
	_, err := StdlibDecoder{}.Decode("/nonexistent/path/does-not-exist.jpg")
	assert.Error(t, err)
}
