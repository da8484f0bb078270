// Package admission enforces the global concurrency ceiling for document
// processing. Admission is a durable counter plus a lease per admitted
// execution; acquisition is a conditional increment so the ceiling holds
// under concurrent schedulers, and release is idempotent so retries and
// crash recovery never drive the counter negative.
package admission
