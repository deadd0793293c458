package config

import (
	"encoding/json"
	"hash/fnv"
)

// fingerprint identifies a decoded config by its canonical JSON form, so
// formatting, comments and JSON vs YAML never count as a change. Zero means
// "unknown" and never matches.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	h := fnv.New64a()
	if err := json.NewEncoder(h).Encode(cfg); err != nil {
		return 0
	}
	return h.Sum64()
}
