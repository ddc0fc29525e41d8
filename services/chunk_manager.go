package services

import (
	"sort"

	"isocity/server/models"
)

// ChunkManager holds the sparse chunk map and the coordinate math between
// world space and chunk space. It does no locking of its own; WorldService
// guards it.
type ChunkManager struct {
	chunkSize int
	chunks    map[models.ChunkCoord]*Chunk
}

// NewChunkManager creates a new chunk manager
func NewChunkManager(chunkSize int) *ChunkManager {
	return &ChunkManager{
		chunkSize: chunkSize,
		chunks:    make(map[models.ChunkCoord]*Chunk),
	}
}

// ChunkSize returns the side length N of every chunk
func (cm *ChunkManager) ChunkSize() int {
	return cm.chunkSize
}

// GridToChunk returns the chunk owning a world coordinate
func (cm *ChunkManager) GridToChunk(worldX, worldY int) models.ChunkCoord {
	return models.ChunkCoord{X: floorDiv(worldX, cm.chunkSize), Y: floorDiv(worldY, cm.chunkSize)}
}

// LocalCoords returns the position of a world coordinate inside its chunk; always in [0,N)
func (cm *ChunkManager) LocalCoords(worldX, worldY int) (int, int) {
	return mod(worldX, cm.chunkSize), mod(worldY, cm.chunkSize)
}

// ChunkToGrid returns the world coordinate of a chunk-local position
func (cm *ChunkManager) ChunkToGrid(c models.ChunkCoord, localX, localY int) (int, int) {
	return c.X*cm.chunkSize + localX, c.Y*cm.chunkSize + localY
}

// Get returns the resident chunk at c
func (cm *ChunkManager) Get(c models.ChunkCoord) (*Chunk, bool) {
	ch, ok := cm.chunks[c]
	return ch, ok
}

// GetOrCreate returns the resident chunk at c, building it with create on a miss.
// At most one chunk ever exists per coordinate.
func (cm *ChunkManager) GetOrCreate(c models.ChunkCoord, create func() *Chunk) *Chunk {
	if ch, ok := cm.chunks[c]; ok {
		return ch
	}
	ch := create()
	cm.chunks[c] = ch
	return ch
}

// Remove drops the chunk at c from the map
func (cm *ChunkManager) Remove(c models.ChunkCoord) {
	delete(cm.chunks, c)
}

// Reset drops every chunk
func (cm *ChunkManager) Reset() {
	cm.chunks = make(map[models.ChunkCoord]*Chunk)
}

// Len returns the number of resident chunks
func (cm *ChunkManager) Len() int {
	return len(cm.chunks)
}

// Coords returns the coordinates of every resident chunk, sorted
func (cm *ChunkManager) Coords() []models.ChunkCoord {
	keys := make([]models.ChunkCoord, 0, len(cm.chunks))
	for k := range cm.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// ChunksAround returns the chunk coordinates in a square of the given radius (in chunks)
func (cm *ChunkManager) ChunksAround(center models.ChunkCoord, radius int) []models.ChunkCoord {
	coords := make([]models.ChunkCoord, 0, (2*radius+1)*(2*radius+1))
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			coords = append(coords, models.ChunkCoord{X: center.X + dx, Y: center.Y + dy})
		}
	}
	return coords
}

func floorDiv(a, b int) int {
	// b > 0
	q := a / b
	if a%b < 0 {
		q--
	}
	return q
}

func mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
