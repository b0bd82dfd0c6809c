package engine

// Run manifests make results reproducible: a stored manifest pins the exact
// config, input data and seed a result came from.

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

const EngineVersion = "1.0.0"

type RunManifest struct {
	JobID         string `json:"job_id"`
	EngineVersion string `json:"engine_version"`
	ConfigHash    string `json:"config_hash"`
	DataChecksum  string `json:"data_checksum"`
	Seed          int64  `json:"seed,omitempty"`
	CreatedAt     uint64 `json:"created_at"`
}

// NewRunManifest hashes the config and input series into a manifest. cfg may
// be any JSON-serializable configuration value.
func NewRunManifest(jobID string, cfg any, bars *BarSeries, seed int64) *RunManifest {
	return &RunManifest{
		JobID:         jobID,
		EngineVersion: EngineVersion,
		ConfigHash:    HashJSON(cfg),
		DataChecksum:  HashJSON(bars),
		Seed:          seed,
		CreatedAt:     uint64(time.Now().UnixMilli()),
	}
}

// HashJSON is the canonical content hash used everywhere a manifest needs
// one: sha256 over the JSON encoding.
func HashJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(b))
}
