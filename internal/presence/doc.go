// Package presence tracks which users are live and which channels they receive.
//
// # Overview
//
// A Registry keeps two indexes:
//
//   - user → set of connection ids (one per open socket, so several per multi-device user)
//   - channel → set of present user ids
//
// Channels are either a user's personal channel (UserChannel) or a group
// channel (GroupChannel). Membership in a channel is live presence only; the
// durable group membership lives in the store and is never touched here.
//
// # Locking
//
// Both indexes are split into shards chosen by FNV hash of the key. Each shard
// has its own RWMutex, so churn for unrelated users does not contend. Any
// operation that touches both indexes locks the user's shard first and then
// one channel shard at a time, which rules out lock-order deadlocks.
//
// When a user's last connection is removed the user is purged from every
// channel recorded in its reverse index. AddUserToChannel refuses users with
// no live connection, so channel members are always a subset of online users.
//
// # Usage
//
//	reg := presence.NewRegistry(32, logger)
//	defer reg.Close()
//
//	reg.AddConnection("alice", connID)
//	reg.AddUserToChannel(presence.UserChannel("alice"), "alice")
//	members := reg.MembersOf(presence.GroupChannel(groupID))
package presence
