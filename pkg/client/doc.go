// Package client is the Go SDK for a powledger node's HTTP API.
//
// # Submitting and mining
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	idx, err := c.SubmitTransaction(ctx, "alice", "bob", 50)
//	// idx is the block the transaction is expected to land in.
//
//	mined, err := c.Mine(ctx)
//	fmt.Println(mined.Block.Index, mined.Attempts)
//
// Mining blocks until the node finds a proof. Give the call a context with a
// deadline, or use WithTimeout, when the node's difficulty is high; the node
// stops searching when the request is cancelled.
//
// # Reading the chain
//
//	chain, err := c.Chain(ctx)
//	block, err := c.Block(ctx, 2)
//	report, err := c.Verify(ctx)
package client
