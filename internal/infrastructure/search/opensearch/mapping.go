package opensearch

import (
	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/domain/record"
)

// DefaultIndexPrefix is prepended to every record index name.
const DefaultIndexPrefix = "chem-"

// IndexMapping is the body of an index create request.
type IndexMapping struct {
	Settings map[string]interface{} `json:"settings,omitempty"`
	Mappings map[string]interface{} `json:"mappings,omitempty"`
}

// IndexName returns the index holding records of kind, e.g. "chem-molecules".
func IndexName(prefix string, kind chem.Kind) string {
	return prefix + string(kind) + "s"
}

// fingerprintField is a keyword array scored with boolean similarity: every
// matching term contributes exactly 1 to _score, so _score counts matched
// bits.
func fingerprintField() map[string]interface{} {
	return map[string]interface{}{
		"type":       "keyword",
		"similarity": "boolean",
		"norms":      false,
	}
}

// RecordIndexMapping returns the mapping of a record index.  Metadata fields
// are mapped dynamically.
func RecordIndexMapping(shards, replicas int) IndexMapping {
	settings := map[string]interface{}{}
	if shards > 0 {
		settings["number_of_shards"] = shards
	}
	if replicas >= 0 {
		settings["number_of_replicas"] = replicas
	}

	return IndexMapping{
		Settings: settings,
		Mappings: map[string]interface{}{
			"dynamic": true,
			"properties": map[string]interface{}{
				record.FieldName:              map[string]interface{}{"type": "keyword"},
				record.FieldSimFingerprint:    fingerprintField(),
				record.FieldSimFingerprintLen: map[string]interface{}{"type": "integer"},
				record.FieldSubFingerprint:    fingerprintField(),
				record.FieldSubFingerprintLen: map[string]interface{}{"type": "integer"},
				record.FieldSerialized:        map[string]interface{}{"type": "binary"},
				record.FieldContentHash:       map[string]interface{}{"type": "keyword"},
			},
		},
	}
}
