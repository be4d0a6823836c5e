// Package dedupe remembers client message ids for a bounded time so a client
// retrying a send does not create a second message.
//
// Keys are scoped per sender with Key(senderID, clientID). Claim is atomic:
// of many concurrent claims on one key exactly one wins. A claim that ends in
// a failed send should be released so the retry can go through.
package dedupe
