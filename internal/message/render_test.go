package message

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"PageHarvester/internal/domain"
)

func TestRender(t *testing.T) {
	t.Parallel()

	rec := domain.NewRecord("symbol", "AAPL", "price", "175.50")

	out, unresolved := Render("Stock: {symbol} @ {price}", rec)
	assert.Equal(t, "Stock: AAPL @ 175.50", out)
	assert.Empty(t, unresolved)
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	t.Parallel()

	rec := domain.NewRecord("symbol", "AAPL")

	out, unresolved := Render("{symbol} {volume} {Symbol}", rec)
	assert.Equal(t, "AAPL {volume} {Symbol}", out)
	assert.Equal(t, []string{"volume", "Symbol"}, unresolved)
}

func TestRenderIsSinglePass(t *testing.T) {
	t.Parallel()

	rec := domain.NewRecord("a", "{b}", "b", "x")

	out, _ := Render("{a}", rec)
	assert.Equal(t, "{b}", out)
}

func TestRenderDefaultSkipsMetadata(t *testing.T) {
	t.Parallel()

	rec := domain.NewRecord("title", "Hello", "_page_number", "2", "by", "Jane")

	out, _ := Render("", rec)
	assert.Equal(t, "title: Hello\nby: Jane", out)
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b"}, Placeholders("{b} {a} {b}"))
}
