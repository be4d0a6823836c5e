// ABOUTME: Package documentation for the connection lifecycle coordinator
// ABOUTME: Explains how sockets, memberships, and presence stay consistent

// Package hub ties live sockets to the chat core.
//
// On connect a user's sockets join their personal channel and every group
// channel the user belongs to; the last disconnect removes them from all of
// them. Membership changes made through the HTTP API reach the hub as
// MemberJoined, MemberLeft and ChannelDeleted so presence never lags behind
// the store. A connect registers the socket before reading memberships and
// re-checks each group after subscribing, so a membership change racing the
// connect is neither lost nor undone. Client invocations arrive through OnInvoke and are routed to the
// dispatcher and the pin manager.
package hub
