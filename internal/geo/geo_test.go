package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pt struct {
	name     string
	lat, lng float64
}

func (p pt) Coordinates() (float64, float64) { return p.lat, p.lng }

func TestBoxAround(t *testing.T) {
	b := BoxAround(39.78, -89.65, 5000)

	assert.Less(t, b.MinLat, 39.78)
	assert.Greater(t, b.MaxLat, 39.78)
	assert.Less(t, b.MinLng, -89.65)
	assert.Greater(t, b.MaxLng, -89.65)
	// ~5km is ~0.045 degrees of latitude.
	assert.InDelta(t, 0.045, b.MaxLat-39.78, 0.005)

	assert.True(t, b.Contains(39.78, -89.65))
	assert.False(t, b.Contains(40.5, -89.65))
}

func TestDistanceMeters(t *testing.T) {
	assert.InDelta(t, 0, DistanceMeters(39.78, -89.65, 39.78, -89.65), 0.001)
	// One degree of latitude is ~111km.
	assert.InDelta(t, 111195, DistanceMeters(0, 0, 1, 0), 500)
}

func TestWithinRadius(t *testing.T) {
	center := pt{lat: 39.78, lng: -89.65}
	items := []pt{
		{name: "far", lat: 39.90, lng: -89.65},
		{name: "near", lat: 39.781, lng: -89.65},
		{name: "mid", lat: 39.80, lng: -89.65},
		{name: "corner", lat: 39.82, lng: -89.60},
	}

	got := WithinRadius(items, center.lat, center.lng, 5000)

	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].name)
	assert.Equal(t, "mid", got[1].name)
}

func TestEncodeDecodePoint(t *testing.T) {
	data, err := EncodePoint(39.78, -89.65)
	require.NoError(t, err)
	// Little-endian byte order marker.
	assert.Equal(t, byte(1), data[0])

	lat, lng, err := DecodePoint(data)
	require.NoError(t, err)
	assert.InDelta(t, 39.78, lat, 1e-9)
	assert.InDelta(t, -89.65, lng, 1e-9)
}

func TestDecodePoint_Garbage(t *testing.T) {
	_, _, err := DecodePoint([]byte{0x01, 0x02})
	assert.Error(t, err)
}
