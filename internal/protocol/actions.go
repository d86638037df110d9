package protocol

// Action codes carried in ACTION packets. One byte each.
const (
	ActionError     byte = 0
	ActionDeath     byte = 1
	ActionDoNothing byte = 16
	ActionMoveRight byte = 17
	ActionMoveUp    byte = 18
	ActionMoveLeft  byte = 19
	ActionMoveDown  byte = 20
	ActionPlaceBomb byte = 32
)

// Tile codes in the GameInit board array.
const (
	TileFree      byte = 0
	TileSoftBlock byte = 1
	TileHardBlock byte = 2
	TileBomb      byte = 3
)
