// Package client is the ResultLedger Go SDK.
//
// It covers both sides of the ledger: producers that generate or record
// results, and consumers that need to check a result they were shown.
//
// # Generating a recorded result
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := c.Summarize(ctx, article)
//	fmt.Println(res["summary"], res["verification_hash"])
//
// The result has been written to the ledger before the server returns it.
//
// # Verifying a result
//
// Verify performs the three-way check locally: the payload is
// re-canonicalized and hashed in-process and only the ledger lookup goes
// over the network, so a compromised transport cannot turn a tampered
// payload into a MATCH.
//
//	out, err := c.VerifyResult(ctx, res)
//	switch {
//	case errors.Is(err, verify.ErrLedgerUnavailable):
//	    // retry later; this is not a mismatch
//	case err != nil:
//	    // the payload could not be canonicalized
//	default:
//	    fmt.Println(out.Outcome) // MATCH, MISMATCH or NOT_FOUND
//	}
//
// VerifyRemote asks the server to do the same computation instead.
//
// # Recording results produced elsewhere
//
// Producers holding a token with the ledger:record scope can ingest their
// own payloads:
//
//	c, _ := client.New(base, client.WithProducerToken(token))
//	rec, err := c.Record(ctx, "qa", map[string]any{"answer": "42"}, "")
//
// An error matching ErrConflict means different content is already
// recorded under the same fingerprint and must be investigated, never
// retried.
package client
