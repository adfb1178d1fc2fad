package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVRender(t *testing.T) {
	data := Dataset{
		Headers: []string{"Name Tag", "Status"},
		Rows: []map[string]string{
			{"Name Tag": "RTB/LPT/GSB/001", "Status": "ACTIVE"},
			{"Name Tag": "RTB/PRJ/NYR/004"},
		},
	}

	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	assert.Equal(t, "Name Tag,Status\nRTB/LPT/GSB/001,ACTIVE\nRTB/PRJ/NYR/004,\n", string(out))
}

func TestCSVRenderRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}
