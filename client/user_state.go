package client

// UserState is the player summary kept current by login replies and notifications
type UserState struct {
	GID   int64
	Name  string
	Level int64
	Gold  int64
	Exp   int64
}

// Pseudo item ids carried by ItemNotify
const (
	itemGold    = 1
	itemGoldAlt = 1001
	itemExp     = 1101
	itemExpAlt  = 2
)
