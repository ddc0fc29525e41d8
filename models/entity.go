package models

import "time"

// Player is a connected client walking the world
type Player struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Icon      string    `json:"icon"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Position is a world-space grid coordinate
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Entity is anything that can stand on a tile
type Entity interface {
	GetPosition() Position
	GetID() string
}

func (p *Player) GetPosition() Position { return Position{X: p.X, Y: p.Y} }

func (p *Player) GetID() string { return p.ID }
