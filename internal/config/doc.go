// Package config loads and validates the license API configuration.
//
// # Configuration Sources
//
// Values are resolved in the following order of precedence:
//
//  1. Environment variables (highest priority)
//  2. A YAML file: $LICENSE_CONFIG_FILE, config.yaml or configs/config.yaml
//  3. Default() (lowest priority)
//
// # Environment Variables
//
// Every field can be set with its namespaced name or with the bare name used by
// earlier deployments of the service:
//
//	LICENSE_BILLING_CREEM_API_KEY=...   or   CREEM_API_KEY=...
//	LICENSE_STORE_DATABASE_URL=...      or   DATABASE_URL=postgres://...
//	LICENSE_LICENSE_MAX_DAILY_REQUESTS  or   MAX_DAILY_REQUESTS=10000
//
// # Validation
//
// Load fails fast when the webhook secret is missing, when billing is enforced
// without an API key, when the postgres driver has no DSN, or when the redis
// session backend has no address. Billing is only ever skipped when
// BILLING_MODE=disabled is set explicitly.
package config
