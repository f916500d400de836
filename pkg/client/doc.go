// Package client is the Go SDK for a mutualboard server.
//
// A board keeps one append-only Merkle ledger per social account. The
// account owner creates the ledger with a notarized proof of ownership;
// anyone with a notarized proof of a mutual follow can then append a message.
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	tree, err := c.CreateTree(ctx, "783214", ownershipProofHex)
//
//	msg, err := c.AppendMessage(ctx, tree.AccountHash, client.AppendMessageRequest{
//	    OrnamentID:      2,
//	    Nickname:        "bob",
//	    Body:            "happy birthday!",
//	    FriendshipProof: friendshipProofHex,
//	})
//
// The returned message carries its inclusion proof and a signed receipt for
// the tree head after the append. Errors from the server are *APIError
// values; a lost append race matches ErrConflict:
//
//	if errors.Is(err, client.ErrConflict) {
//	    // re-read the tree and try again
//	}
package client
