// Package resilience groups the failure-handling building blocks shared by
// the collector, the source client, the enhancers and the notifiers.
//
//   - retry: WithBackoff re-runs an operation on transient errors with
//     jittered exponential back-off, honouring Retry-After hints.
//   - circuitbreaker: gobreaker-based breakers with per-use policies and a
//     Registry that keeps one breaker per source, task, provider or channel
//     for the life of the process.
//
// Typical use wraps the breaker inside the retry loop, so an open circuit
// ends the retries at once:
//
//	breakers := circuitbreaker.NewRegistry(circuitbreaker.SourceFetchConfig)
//	err := retry.WithBackoff(ctx, retry.SourceFetchConfig(), func() error {
//		_, err := breakers.Get(host).Execute(func() (interface{}, error) {
//			return fetch(ctx, url)
//		})
//		return err
//	})
package resilience
