package render

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyForDerivesPixelDimensions(t *testing.T) {
	cfg := Config{Zoom: 2, Quality: 1.5}
	key := cfg.KeyFor(4, 612, 792)

	require.Equal(t, 4, key.Page)
	require.Equal(t, 2.0, key.Zoom)
	require.Equal(t, 1836, key.Width)  // floor(612 * 3.0)
	require.Equal(t, 2376, key.Height) // floor(792 * 3.0)
}

func TestKeyForFloorsFractions(t *testing.T) {
	cfg := Config{Zoom: 0.33, Quality: 1}
	key := cfg.KeyFor(0, 100, 100)
	require.Equal(t, 33, key.Width)
	require.Equal(t, 33, key.Height)
}

func TestKeyForClampsToOnePixel(t *testing.T) {
	cfg := Config{Zoom: 0.001, Quality: 1}
	key := cfg.KeyFor(0, 10, 10)
	require.Equal(t, 1, key.Width)
	require.Equal(t, 1, key.Height)
}

func TestKeyForDefaultsInvalidConfig(t *testing.T) {
	key := Config{}.KeyFor(0, 100, 200)
	require.Equal(t, 1.0, key.Zoom)
	require.Equal(t, 100, key.Width)
	require.Equal(t, 200, key.Height)
}

func TestKeysDifferByZoom(t *testing.T) {
	a := Config{Zoom: 1, Quality: 1}.KeyFor(0, 100, 100)
	b := Config{Zoom: 2, Quality: 1}.KeyFor(0, 100, 100)
	require.NotEqual(t, a, b)
}
