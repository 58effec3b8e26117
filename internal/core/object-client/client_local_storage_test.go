package objectclient

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docuiq/internal/core"
)

func TestLocalClientRoundTrip(t *testing.T) {
	c, err := NewLocalClient(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	url, err := c.UploadFile(ctx, "users/u1/content/c1/report.pdf", strings.NewReader("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"))
	assert.True(t, strings.HasSuffix(url, "users/u1/content/c1/report.pdf"))

	data, err := c.GetFile(ctx, "users/u1/content/c1/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	_, err = c.UploadFile(ctx, "users/u1/content/c1/report.pdf", strings.NewReader("v2"), "application/pdf")
	require.NoError(t, err)
	data, err = c.GetFile(ctx, "users/u1/content/c1/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	require.NoError(t, c.DeleteFile(ctx, "users/u1/content/c1/report.pdf"))
	require.NoError(t, c.DeleteFile(ctx, "users/u1/content/c1/report.pdf"), "deleting twice is fine")
	_, err = c.GetFile(ctx, "users/u1/content/c1/report.pdf")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestLocalClientRejectsEscapingKeys(t *testing.T) {
	c, err := NewLocalClient(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"../outside", "a/../../b", ""} {
		_, err := c.UploadFile(context.Background(), key, strings.NewReader("x"), "text/plain")
		assert.ErrorIs(t, err, core.ErrValidation, key)
	}
}
