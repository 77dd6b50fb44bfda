package s3storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/VoteDrop/internal/config"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "uploads/ds-1/mesa.json", UploadKey("ds-1", "mesa.json"))
	assert.Equal(t, "uploads/ds-1/mesa.json", UploadKey("ds-1", "../../etc/mesa.json"))
	assert.Equal(t, "applied/ds-1.json", AppliedKey("ds-1"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("a.json"))
	assert.Contains(t, contentType("a.xlsx"), "spreadsheetml")
}

func TestNewDoesNotDial(t *testing.T) {
	s, err := New(&config.Config{
		S3Endpoint: "localhost:9000", S3AccessKey: "k", S3SecretKey: "s",
		S3Region: "us-east-1", RawBucket: "raw", ProcessedBucket: "done",
	})
	require.NoError(t, err)
	assert.Equal(t, "raw", s.rawBucket)
	assert.Equal(t, "done", s.processedBucket)
}
