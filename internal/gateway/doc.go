// Package gateway runs the chathub servers.
//
// # Overview
//
// Gateway owns the store and builds the chat core on top of it: the presence
// registry, the fanout notifier, the client message id cache, the dispatcher,
// the pin manager and the hub. It then serves three surfaces:
//
//   - WebSocket at GET /ws. The token comes from the Authorization header or
//     the access_token query parameter.
//   - HTTP API for group membership changes, behind bearer auth.
//   - gRPC health service on server.grpc_addr.
//
// # Socket Protocol
//
// Clients send requests and receive replies with the same id:
//
//	→ {"id":"1","method":"sendMessage","params":{"receiverId":"bob","content":"hi"}}
//	← {"id":"1","result":{"id":"...","isNewConversation":true,...}}
//	← {"id":"2","error":{"kind":"forbidden","message":"not a member of group g1"}}
//
// Server pushes are event frames without an id:
//
//	← {"event":"message-received","data":{...}}
//
// Methods: sendMessage, joinChannel, leaveChannel, removeUserFromChannel,
// typing, pinMessage, unpinMessage, listPins. Events: message-received,
// member-joined, member-left, channel-deleted, message-pinned,
// message-unpinned, typing.
//
// A socket that fails authentication receives one error frame and is closed
// with policy violation (1008). A socket whose send buffer fills up is closed
// with try-again-later (1013).
//
// # HTTP API
//
//	GET    /health                              liveness
//	GET    /health/ready                        presence and fanout counters
//	POST   /api/groups                          create a group, caller becomes admin
//	DELETE /api/groups/{groupID}                admin only
//	POST   /api/groups/{groupID}/members        admin only
//	DELETE /api/groups/{groupID}/members/{id}   admin, or the member leaving
//
// Every membership change is applied to the store first and then handed to
// the hub, so live sockets follow without reconnecting.
package gateway
