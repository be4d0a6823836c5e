// Package store provides persistent storage for chathub using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with small
// collaborator interfaces that callers depend on individually:
//
//   - UserStore: Account lookup
//   - MembershipStore: Group membership queries (the channel subscription source of truth)
//   - GroupStore: Group and member management
//   - ConversationStore: Direct conversations keyed by an unordered user pair
//   - MessageStore: Message persistence
//   - PinStore: Pinned messages per scope
//
// Store composes all of them. SQLiteStore and MockStore both implement Store.
//
// # Data Models
//
//   - User: Account id and display name
//   - Group, GroupMember: Group chats and their members (with admin flag)
//   - Conversation: Direct chat between two users, unique per unordered pair
//   - Message: Text, image, file or notification posted to exactly one scope
//   - Scope: Either a conversation id or a group id
//   - PinnedMessage: An active pin of a message inside a scope
//
// # Concurrency Guarantees
//
// Two invariants are enforced by the schema rather than by callers:
//
//   - conversations.pair_key is a UNIQUE index, so concurrent creators for
//     the same pair get ErrDuplicateConversation and can re-read the winner.
//   - CreatePin counts and inserts in one statement, so a scope never holds
//     more than the requested limit even under concurrent pinning.
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite (pure Go) with pragmas set in the DSN so
// every pooled connection gets them:
//
//	_pragma=foreign_keys(1)
//	_pragma=busy_timeout(5000)
//	_pragma=journal_mode(WAL)    (file databases only)
//
// # Error Handling
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateConversation: The unordered pair already has a conversation
//   - ErrDuplicatePin: The message is already pinned in the scope
//   - ErrPinLimit: The scope already holds the maximum number of pins
//   - ErrDuplicateMember: The user already belongs to the group
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	s := store.NewMockStore()
//
// Set MockStore.DisablePairConstraint to model a schema without the pair
// index. Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
package store
