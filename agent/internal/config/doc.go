// Package config loads and watches the sentinel configuration file.
//
// Top-level types:
//   - Config{Agent}: full config tree parsed from YAML
//   - AgentConfig: samples, interval, fetch_timeout, services [], state paths,
//     detection tuning, logging, metrics, archive, webhooks
//   - Service: name, url, format (json|prometheus), auth, tls
//   - Detection: history/min-history sizes, z threshold, cooldown, route
//     ranking and the per-detector rules
//
// Load(path) applies defaults (1 sample, 2s interval, 30-point histories,
// 60s cooldown), reads the YAML file when path is non-empty, applies
// SENTINEL_* environment overrides, then validates. Path() resolves which file
// to load.
//
// Watch(ctx, path, onChange) uses fsnotify on the file's directory so atomic
// saves (write temp, rename over) are observed, and calls onChange with each
// successfully re-parsed Config.
package config
