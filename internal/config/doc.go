/*
Package config provides configuration management for the object cache.

Configuration is layered: compiled-in defaults, then a YAML file, then
OBJCACHE_* environment variables.

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (OBJCACHE_*)                      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (YAML)           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Sections

	global          logging and metrics endpoint
	object_manager  paranoid commits, commit and delete batch sizes, lookup limits
	cache           eviction policy, resident object budget, eviction cadence
	gateway         fault/flush worker counts, queue depth, store retry backoff
	gc              collector enablement and interval
	storage         backend selection: memory, pebble or s3

# Example

	global:
	  log_level: INFO
	  log_format: console
	  metrics_port: 9464
	cache:
	  eviction_policy: lru
	  max_objects: 100000
	storage:
	  backend: pebble
	  pebble:
	    directory: /var/lib/objcache
	    sync: true

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
*/
package config
