// Package license decides whether a trading agent may run and keeps its session alive.
//
// # Validation
//
// A validation moves through fixed stages and stops at the first refusal:
//
//	RECEIVED -> BILLING_CHECKED -> LICENSE_LOOKED_UP -> DEVICE_RESOLVED -> SESSION_ISSUED
//
// Input errors are refused before any external call and leave no audit row. Every
// later outcome, success or refusal, appends exactly one ValidationLog row. A failed
// log write is reported in the service log and never changes the response.
//
// # Device slots
//
// A license admits at most MaxDevices active devices. Admission goes through
// store.DeviceStore.RegisterDevice, which re-reads the active count and inserts under
// one lock, so concurrent first validations cannot over-admit.
//
// # Sessions
//
// Sessions carry a 64-character token and expire after the configured TTL. A heartbeat
// with less than the refresh threshold remaining rotates the token; the Reaper deletes
// expired sessions on a fixed interval.
//
// # Billing webhooks
//
// WebhookProcessor verifies the HMAC-SHA256 signature of the raw body before parsing
// it, then deactivates or reactivates the license named in the event. Replays converge
// to the same state.
//
// # Privacy
//
// License keys are masked in service logs. Client IPs are stored and logged only as
// keyed BLAKE2b digests, and audit rows truncate keys and device ids.
package license
