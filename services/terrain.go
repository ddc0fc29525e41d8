package services

import (
	"math"

	"isocity/server/models"
)

const (
	coarseScale  = 24.0
	fineScale    = 8.0
	coarseWeight = 0.65
	fineWeight   = 0.35

	moistureSeedOffset = 7919
)

// Terrain samples elevation and moisture as smooth functions of world
// coordinates and seed. Sampling never walks an RNG, so any chunk
// regenerates identically in any order.
type Terrain struct {
	Seed int64
}

// Elevation returns a value in [0,1]
func (g Terrain) Elevation(worldX, worldY int) float64 {
	return layeredNoise(g.Seed, worldX, worldY)
}

// Moisture returns a value in [0,1]
func (g Terrain) Moisture(worldX, worldY int) float64 {
	return layeredNoise(g.Seed+moistureSeedOffset, worldX, worldY)
}

// Sample returns the terrain type and integer elevation of a world cell
func (g Terrain) Sample(worldX, worldY int) (models.TileType, int) {
	e := g.Elevation(worldX, worldY)
	m := g.Moisture(worldX, worldY)
	return Classify(e, m), TileElevation(e)
}

// Classify maps elevation and moisture onto a terrain type
func Classify(e, m float64) models.TileType {
	switch {
	case e < 0.2:
		return models.TileWater
	case e < 0.3:
		if m > 0.6 {
			return models.TileSand
		}
		return models.TileWater
	case e < 0.7:
		switch {
		case m < 0.2:
			return models.TileDirt
		case m < 0.6:
			return models.TileGrass
		default:
			return models.TileStone
		}
	case e < 0.85:
		return models.TileStone
	default:
		return models.TileSnow
	}
}

// TileElevation converts a [0,1] elevation sample to the stored integer
// elevation; samples below 0.3 are negative.
func TileElevation(e float64) int {
	return int(math.Floor((e - 0.3) * 10))
}

func layeredNoise(seed int64, x, y int) float64 {
	return coarseWeight*valueNoise(seed, float64(x), float64(y), coarseScale) +
		fineWeight*valueNoise(seed+1, float64(x), float64(y), fineScale)
}

// valueNoise interpolates lattice hashes with a smoothstep fade
func valueNoise(seed int64, x, y, scale float64) float64 {
	fx, fy := x/scale, y/scale
	x0, y0 := math.Floor(fx), math.Floor(fy)
	tx, ty := smoothstep(fx-x0), smoothstep(fy-y0)

	ix, iy := int64(x0), int64(y0)
	v00 := latticeHash(seed, ix, iy)
	v10 := latticeHash(seed, ix+1, iy)
	v01 := latticeHash(seed, ix, iy+1)
	v11 := latticeHash(seed, ix+1, iy+1)

	top := lerp(v00, v10, tx)
	bottom := lerp(v01, v11, tx)
	return lerp(top, bottom, ty)
}

// latticeHash is the fract(sin(dot) * k) hash, in [0,1)
func latticeHash(seed, ix, iy int64) float64 {
	v := math.Sin(float64(ix)*12.9898+float64(iy)*78.233+float64(seed)*0.1731) * 43758.5453
	return v - math.Floor(v)
}

func smoothstep(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
