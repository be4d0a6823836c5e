// ABOUTME: Sharded in-memory index of live connections per user and present users per channel.
// ABOUTME: Each shard has its own lock; user shards are always locked before channel shards.

package presence

import (
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// DefaultShards is used when NewRegistry is given a non-positive shard count.
const DefaultShards = 32

const (
	userChannelPrefix  = "user:"
	groupChannelPrefix = "group:"
)

// UserChannel returns the personal channel id of a user.
func UserChannel(userID string) string { return userChannelPrefix + userID }

// GroupChannel returns the broadcast channel id of a group.
func GroupChannel(groupID string) string { return groupChannelPrefix + groupID }

// ParseChannel splits a channel id into its kind ("user" or "group") and target id.
// ok is false for ids that don't carry a known prefix.
func ParseChannel(channelID string) (kind, id string, ok bool) {
	switch {
	case strings.HasPrefix(channelID, userChannelPrefix):
		return "user", strings.TrimPrefix(channelID, userChannelPrefix), true
	case strings.HasPrefix(channelID, groupChannelPrefix):
		return "group", strings.TrimPrefix(channelID, groupChannelPrefix), true
	default:
		return "", "", false
	}
}

type set map[string]struct{}

func (s set) keys() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// userEntry exists only while the user has at least one live connection.
type userEntry struct {
	conns    set
	channels set // reverse index so the last disconnect knows what to purge
}

type userShard struct {
	mu    sync.RWMutex
	users map[string]*userEntry
}

type channelShard struct {
	mu       sync.RWMutex
	channels map[string]set
}

// Stats is a point-in-time count of registry contents.
type Stats struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
	Channels    int `json:"channels"`
}

// Registry tracks which connections belong to which user and which present
// users are subscribed to which channel. It is safe for concurrent use.
type Registry struct {
	userShards    []*userShard
	channelShards []*channelShard
	logger        *slog.Logger
}

// NewRegistry creates a Registry split into the given number of shards.
func NewRegistry(shards int, logger *slog.Logger) *Registry {
	if shards <= 0 {
		shards = DefaultShards
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		userShards:    make([]*userShard, shards),
		channelShards: make([]*channelShard, shards),
		logger:        logger.With("component", "presence"),
	}
	for i := 0; i < shards; i++ {
		r.userShards[i] = &userShard{users: make(map[string]*userEntry)}
		r.channelShards[i] = &channelShard{channels: make(map[string]set)}
	}
	return r
}

func shardIndex(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (r *Registry) userShardFor(userID string) *userShard {
	return r.userShards[shardIndex(userID, len(r.userShards))]
}

func (r *Registry) channelShardFor(channelID string) *channelShard {
	return r.channelShards[shardIndex(channelID, len(r.channelShards))]
}

// AddConnection records a live connection for the user.
func (r *Registry) AddConnection(userID, connID string) {
	us := r.userShardFor(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	entry, ok := us.users[userID]
	if !ok {
		entry = &userEntry{conns: make(set), channels: make(set)}
		us.users[userID] = entry
	}
	entry.conns[connID] = struct{}{}

	r.logger.Debug("connection added", "user_id", userID, "conn_id", connID, "user_connections", len(entry.conns))
}

// RemoveConnection forgets a connection and reports whether it was the user's last one.
// When it was, the user is removed from every channel it had been added to.
func (r *Registry) RemoveConnection(userID, connID string) bool {
	us := r.userShardFor(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	entry, ok := us.users[userID]
	if !ok {
		return false
	}
	if _, ok := entry.conns[connID]; !ok {
		return false
	}
	delete(entry.conns, connID)
	if len(entry.conns) > 0 {
		return false
	}

	delete(us.users, userID)
	for channelID := range entry.channels {
		r.removeMember(channelID, userID)
	}

	r.logger.Debug("user went offline", "user_id", userID, "channels_purged", len(entry.channels))
	return true
}

// AddUserToChannel subscribes a present user to a channel. It returns false
// without doing anything when the user has no live connection.
func (r *Registry) AddUserToChannel(channelID, userID string) bool {
	us := r.userShardFor(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	entry, ok := us.users[userID]
	if !ok {
		return false
	}
	entry.channels[channelID] = struct{}{}

	cs := r.channelShardFor(channelID)
	cs.mu.Lock()
	members, ok := cs.channels[channelID]
	if !ok {
		members = make(set)
		cs.channels[channelID] = members
	}
	members[userID] = struct{}{}
	cs.mu.Unlock()

	return true
}

// RemoveUserFromChannel unsubscribes every live connection of the user from the channel.
// It reports whether the user had been present in the channel.
func (r *Registry) RemoveUserFromChannel(channelID, userID string) bool {
	us := r.userShardFor(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	if entry, ok := us.users[userID]; ok {
		delete(entry.channels, channelID)
	}
	return r.removeMember(channelID, userID)
}

// removeMember must be called with the user's shard locked.
func (r *Registry) removeMember(channelID, userID string) bool {
	cs := r.channelShardFor(channelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	members, ok := cs.channels[channelID]
	if !ok {
		return false
	}
	if _, ok := members[userID]; !ok {
		return false
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(cs.channels, channelID)
	}
	return true
}

// DropChannel removes every present user from the channel and returns who was in it.
// Users added while the drop runs are removed too; it returns once the channel is empty.
func (r *Registry) DropChannel(channelID string) []string {
	dropped := make(set)
	for {
		members := r.MembersOf(channelID)
		if len(members) == 0 {
			break
		}
		for _, userID := range members {
			r.RemoveUserFromChannel(channelID, userID)
			dropped[userID] = struct{}{}
		}
	}
	r.logger.Debug("channel dropped", "channel_id", channelID, "members", len(dropped))
	return dropped.keys()
}

// MembersOf returns a sorted snapshot of the users present in the channel.
func (r *Registry) MembersOf(channelID string) []string {
	cs := r.channelShardFor(channelID)
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.channels[channelID].keys()
}

// ConnectionsOf returns a sorted snapshot of the user's live connections.
func (r *Registry) ConnectionsOf(userID string) []string {
	us := r.userShardFor(userID)
	us.mu.RLock()
	defer us.mu.RUnlock()

	entry, ok := us.users[userID]
	if !ok {
		return []string{}
	}
	return entry.conns.keys()
}

// ChannelsOf returns a sorted snapshot of the channels the user is present in.
func (r *Registry) ChannelsOf(userID string) []string {
	us := r.userShardFor(userID)
	us.mu.RLock()
	defer us.mu.RUnlock()

	entry, ok := us.users[userID]
	if !ok {
		return []string{}
	}
	return entry.channels.keys()
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	us := r.userShardFor(userID)
	us.mu.RLock()
	defer us.mu.RUnlock()
	_, ok := us.users[userID]
	return ok
}

// Stats counts users, connections and non-empty channels. Shards are read one
// at a time, so the totals may mix states from concurrent updates.
func (r *Registry) Stats() Stats {
	var st Stats
	for _, us := range r.userShards {
		us.mu.RLock()
		st.Users += len(us.users)
		for _, entry := range us.users {
			st.Connections += len(entry.conns)
		}
		us.mu.RUnlock()
	}
	for _, cs := range r.channelShards {
		cs.mu.RLock()
		st.Channels += len(cs.channels)
		cs.mu.RUnlock()
	}
	return st
}

// Close drops all presence state. The registry stays usable afterwards.
func (r *Registry) Close() {
	for _, us := range r.userShards {
		us.mu.Lock()
	}
	for _, cs := range r.channelShards {
		cs.mu.Lock()
	}

	for _, us := range r.userShards {
		us.users = make(map[string]*userEntry)
	}
	for _, cs := range r.channelShards {
		cs.channels = make(map[string]set)
	}

	for _, cs := range r.channelShards {
		cs.mu.Unlock()
	}
	for _, us := range r.userShards {
		us.mu.Unlock()
	}
	r.logger.Info("presence registry closed")
}
