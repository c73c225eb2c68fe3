// Package dispatch sends ready notifications across their approved channels.
//
// Each channel attempt runs independently and concurrently under a
// per-attempt timeout; one hanging or failing channel never blocks the
// others or the queue loop. Failures are transient by default and retried by
// the engine; transports mark unrecoverable failures by wrapping
// ErrPermanent.
//
// Shipped transports: Postmark email, signed-JSON webhooks and the in-app
// feed. Push and SMS providers plug in through the Transport interface.
package dispatch
