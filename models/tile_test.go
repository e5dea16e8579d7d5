package models

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func TestNewTile(t *testing.T) {
	tile := NewTile(7, 0, 0, 100, 100)

	require.Equal(t, uint32(7), tile.ID)
	require.Equal(t, orb.Point{50, 50}, tile.Center)
	require.Equal(t, orb.Point{0, 0}, tile.Bounds.Min)
	require.Equal(t, orb.Point{100, 100}, tile.Bounds.Max)
}

func TestPointBuffer(t *testing.T) {
	b := NewPointBuffer(2)
	require.Equal(t, 0, b.Len())

	b = b.Append(1, 2, 3)
	b = b.Append(4, 5, 6)
	require.Equal(t, 2, b.Len())

	x, y, z := b.At(1)
	require.Equal(t, 4.0, x)
	require.Equal(t, 5.0, y)
	require.Equal(t, 6.0, z)

	c := b.Clone()
	c = c.AppendBuffer(b)
	require.Equal(t, 4, c.Len())
	require.Equal(t, 2, b.Len())
}
