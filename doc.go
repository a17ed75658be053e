// Package opsclient is the request-orchestration client shared by the
// business-operations dashboard services (audit, backup, notifications,
// reports, themes). Every call goes through one *Client which routes the
// request to the data backend, the object store or a plain HTTP endpoint
// and layers the following around it:
//
//   - Response caching for GET requests with per-entry expiry
//   - Fixed-window rate limiting keyed by endpoint
//   - Retries with exponential backoff and additive jitter
//   - A single-worker priority scheduler (critical, high, normal, low)
//   - Batch execution with bounded concurrency and optional fail-fast
//   - Dependency health reporting and Prometheus metrics
//   - Asynchronous activity recording through an injected sink
//
// Typical usage:
//
//	client := opsclient.New(
//	    opsclient.WithBaseURL("https://api.example.com"),
//	    opsclient.WithMaxRetries(3),
//	    opsclient.WithRateLimit(100, time.Minute),
//	    opsclient.WithDataBackend(store),
//	)
//	defer client.Close(ctx)
//
//	resp, err := client.Get(ctx, "/rest/v1/orders", map[string]string{"status": "open"})
//	orders, err := opsclient.Decode[[]Order](resp)
//
// Targets of the form /rest/v1/<resource>[/<id>] are served by the data
// backend, /storage/v1/object/<bucket>/<key> by the object store and
// everything else by HTTP, relative targets being joined to the base URL.
package opsclient
