package redis

import (
	"fmt"

	"github.com/mcoot/lemonslots/internal/model"
)

// keys builds the Redis keys for one prefix
type keys struct {
	prefix string
}

// player returns the HASH holding a player's record and counters
func (k keys) player(id model.PlayerID) string {
	return fmt.Sprintf("%s:player:%s", k.prefix, id)
}

// nicknameIndex returns the nickname -> player_id index key
func (k keys) nicknameIndex(nickname string) string {
	return fmt.Sprintf("%s:idx:nickname:%s", k.prefix, nickname)
}

// leaderboard returns the ZSET of nicknames scored by negated points, so that an
// ascending ZRANGE yields points desc with ties broken by nickname asc
func (k keys) leaderboard() string {
	return fmt.Sprintf("%s:leaderboard", k.prefix)
}

// grant returns the HASH holding one grant record
func (k keys) grant(id string) string {
	return fmt.Sprintf("%s:grant:%s", k.prefix, id)
}

// grants returns the LIST of grant ids, newest first
func (k keys) grants() string {
	return fmt.Sprintf("%s:grants", k.prefix)
}

// settlement returns the HASH recording the balance a spin id settled to
func (k keys) settlement(id model.SpinID) string {
	return fmt.Sprintf("%s:spin:%s", k.prefix, id)
}

// credit returns the HASH holding one parked reward
func (k keys) credit(id model.SpinID) string {
	return fmt.Sprintf("%s:credit:%s", k.prefix, id)
}

// pendingCredits returns the ZSET of unapplied credit spin ids scored by park time
func (k keys) pendingCredits() string {
	return fmt.Sprintf("%s:credits:pending", k.prefix)
}

// lock returns the key guarding one player's serializer lease
func (k keys) lock(id model.PlayerID) string {
	return fmt.Sprintf("%s:lock:%s", k.prefix, id)
}

// events returns the pub/sub channel balance events are bridged over
func (k keys) events() string {
	return fmt.Sprintf("%s:events", k.prefix)
}
