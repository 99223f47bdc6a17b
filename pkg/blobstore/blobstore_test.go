package blobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef_RoundTrip(t *testing.T) {
	ref := "blobref:photos/blobs/abc123#sha256=deadbeef"
	bucket, key, digest, err := ParseRef(ref)
	require.NoError(t, err)
	assert.Equal(t, "photos", bucket)
	assert.Equal(t, "blobs/abc123", key)
	assert.Equal(t, "deadbeef", digest)
}

func TestParseRef_Malformed(t *testing.T) {
	for _, bad := range []string{
		"not-a-ref",
		"blobref:bucket-only#sha256=d",
		"blobref:bucket/key",
		"blobref:/key#sha256=d",
	} {
		_, _, _, err := ParseRef(bad)
		assert.Error(t, err, "ref %q", bad)
	}
}

func TestIsRef(t *testing.T) {
	assert.True(t, IsRef("blobref:b/k#sha256=d"))
	assert.False(t, IsRef("iVBORw0KGgo inline image bytes"))
}
