// Package pins manages pinned messages inside a conversation or a group.
//
// A Scope names exactly one of the two. Each scope holds at most Limit()
// pins (10 by default) and a message is pinned at most once per scope.
//
// # Errors
//
// All failures are chaterr values:
//
//   - Validation: malformed scope, missing message id, message already pinned
//   - NotFound: unknown message, group or conversation; message outside the scope; unpin of an unpinned message
//   - Forbidden: requester is not a participant or member
//   - Capacity: the scope is full
//   - RaceOutcome: another writer pinned the same message after the pre-check
//
// # Concurrency
//
// Pin and Unpin take a per-scope lock, so concurrent requests in one process
// see each other's results. The store's CreatePin also refuses inserts past
// the limit in a single statement, which keeps the cap when several processes
// share one database.
//
// # Notifications
//
// Every successful change persists a Notification message ("Alice pinned a
// message") and pushes message-pinned or message-unpinned to the group
// channel, or to the personal channels of both conversation participants.
package pins
