package browser

import (
	"context"
	"testing"

	pw "github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PageHarvester/internal/domain"
)

func TestKeyName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"enter":            "Enter",
		"PageDown":         "PageDown",
		"ctrl+a":           "Control+a",
		"ctrl + shift + t": "Control+Shift+t",
		"F12":              "F12",
	}
	for in, want := range cases {
		assert.Equal(t, want, KeyName(in), in)
	}
}

func TestEndpoints(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.CDPURL = "http://127.0.0.1:9223"
	assert.Equal(t, []string{
		"http://127.0.0.1:9223",
		"http://127.0.0.1:9222",
		"http://127.0.0.1:9224",
		"http://127.0.0.1:9225",
	}, Endpoints(cfg))
}

type openPage struct{ pw.Page }

func TestClosedSessionRejectsCalls(t *testing.T) {
	t.Parallel()

	s := &Session{page: openPage{}}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.Navigate(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindFatal))
	assert.Contains(t, err.Error(), "browser session closed")
}

func TestSnapshotScriptLeavesPageUntouched(t *testing.T) {
	t.Parallel()

	assert.Contains(t, snapshotScript, "cloneNode(true)")
	assert.NotContains(t, snapshotScript, "document.querySelectorAll('input').forEach")
}
