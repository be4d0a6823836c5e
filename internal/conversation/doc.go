// Package conversation resolves direct conversations between two users.
//
// # Resolver
//
//	r := conversation.NewResolver(store, logger)
//	conv, created, err := r.GetOrCreate(ctx, senderID, receiverID)
//
// The pair is unordered: GetOrCreate(a, b) and GetOrCreate(b, a) resolve to
// the same row. The first contact keeps its (sender, receiver) order in
// UserAID/UserBID.
//
// # Concurrency
//
// Lookup and insert are separate steps, so two callers can both miss the
// lookup. The store rejects the second insert with ErrDuplicateConversation
// (unique pair key) and the loser re-reads the winner's row, reporting
// created=false. If that re-read also misses, the caller gets a
// chaterr RaceOutcome error instead of a silent duplicate.
//
// Other lookups:
//
//   - Get(ctx, id, userID): fetch a conversation the user participates in
//   - OtherParticipant(ctx, id, userID): the user on the other side
package conversation
