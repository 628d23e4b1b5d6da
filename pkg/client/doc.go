// Package client is the auditchain Go SDK.
//
// It wraps the auditchain HTTP API: appending tamper-evident audit records,
// fetching and searching records, verifying per-tenant hash chains, and
// exporting a chain window as CSV.
//
// # Getting a token and appending a record
//
//	c := client.New("https://audit.example.com")
//	token, err := c.Token(ctx, adminSecret, "billing-svc", []string{"audit:write"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	c = client.New("https://audit.example.com", client.WithBearerToken(token))
//	rec, created, err := c.AppendRecord(ctx, client.AppendRequest{
//	    TenantID:     "acme",
//	    Actor:        "billing-svc",
//	    Action:       "invoice.created",
//	    ResourceType: "invoice",
//	    ResourceID:   "inv_42",
//	    Payload:      map[string]any{"amount": 100, "currency": "USD"},
//	})
//
// created is false when the server replays an earlier submission with the
// same submission id, which makes retries safe: set SubmissionID explicitly
// and resend the identical request after a timeout.
//
// # Verifying a chain
//
//	res, err := c.Verify(ctx, "acme", 0, 0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !res.OK {
//	    log.Printf("chain broken at %s: %s", res.FirstMismatchID, res.Message)
//	}
//
// Pass non-zero fromSeq/toSeq to verify a bounded window of the chain.
package client
