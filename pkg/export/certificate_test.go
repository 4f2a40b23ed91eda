package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertificateRendererRender(t *testing.T) {
	renderer := NewCertificateRenderer()
	data, err := renderer.Render(Certificate{
		StudentName: "Ada Lovelace",
		SeriesTitle: "Foundations of Algorithms",
		CompletedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Reference:   "enr-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, "%PDF", string(data[:4]))
}

func TestCertificateRendererRequiresNames(t *testing.T) {
	renderer := NewCertificateRenderer()
	_, err := renderer.Render(Certificate{StudentName: "Ada Lovelace"})
	require.Error(t, err)
}
