// Package dispatch delivers outbound chat messages.
//
// # Flow
//
//	Request ──Classify──▶ DirectSend | GroupSend ──Dispatch──▶ DirectRouter | GroupRouter
//
// Classify is the only place the raw request is inspected. It returns a
// validation error ("no route for request") when neither a receiver nor a
// group is named for the declared type. Send is a sealed interface, so the
// type switch in Dispatch covers every value it can receive.
//
// # Routers
//
//   - DirectRouter: checks the receiver exists, uses the given conversation
//     (sender must take part) or get-or-creates one for the pair, persists
//     the message, bumps lastMessageAt, and pushes message-received to the
//     receiver's personal channel only.
//   - GroupRouter: checks the group exists and the sender is a member,
//     persists, and pushes message-received to every user present in the
//     group channel.
//
// Both return a MessageRecord with sender and group names filled in.
//
// # Client retries
//
// A request may carry clientMessageId. The first send claims it in a
// dedupe.Cache. A repeat within the TTL gets the stored record back and
// nothing is fanned out again; a repeat that arrives before the first send
// has stored its message fails with a race outcome. Failed sends release the
// claim.
package dispatch
