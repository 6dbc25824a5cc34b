// Package config handles configuration loading for suggest-gateway.
//
// # Sources
//
// Values are layered, later sources winning:
//
//  1. Default(): in-memory storage, echo generator, localhost:8000.
//  2. A YAML or TOML file (chosen by the .toml extension), with ${VAR_NAME}
//     references expanded from the environment.
//  3. Environment variables named in the struct tags, such as OVH_API_KEY
//     and SUGGEST_HTTP_ADDR.
//
// LoadDotEnv reads a .env file into the environment before Load runs.
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8000"
//	  allowed_origins: ["http://localhost:8080"]
//	  rate_limit: { rps: 5, burst: 10 }
//	database:
//	  driver: "sqlite"            # sqlite (pure Go) or sqlite3 (cgo)
//	  path: "./data/suggest.db"   # empty keeps conversations in memory
//	generation:
//	  provider: "openai"          # openai or echo
//	  api_key: "${OVH_API_KEY}"
//	  timeout: "60s"
//	suggest:
//	  run_timeout: "90s"
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Duration values use Go's time.ParseDuration syntax.
package config
