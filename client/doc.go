// Package client is the caller-side companion of the doc2pdf server.
//
// A Coordinator keeps at most one request in flight per purpose: submitting
// a new call cancels the previous one, and a superseded call never reaches
// the apply hook. TrySubmit adds a debounce so rapid re-submission is
// rejected with ErrTooSoon instead of starting a compile storm.
//
// A ResultCache stores finished PDFs by key for a fixed TTL (one hour by
// default). Expired entries are never returned.
//
// Client speaks the server's HTTP API, and Session ties the three together:
//
//	c := client.NewClient("http://localhost:8080")
//	s := client.NewSession(c)
//	pdf, err := s.Compile(ctx, markup, nil)
//	switch {
//	case client.IsCancelled(err), errors.Is(err, client.ErrTooSoon):
//	    // user action, nothing to report
//	case err != nil:
//	    var re *client.RemoteError
//	    if errors.As(err, &re) { ... re.Message, re.Details ... }
//	}
package client
