package config

import (
	"fmt"
	"strings"
)

// ParseFieldList flattens field names given either as separate entries or as
// comma-separated lists, as they arrive from an environment variable.
// Duplicates are rejected.
func ParseFieldList(entries []string) ([]string, error) {
	fields := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		for _, name := range strings.Split(entry, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				return nil, fmt.Errorf("duplicate field %q", name)
			}
			seen[name] = struct{}{}
			fields = append(fields, name)
		}
	}
	return fields, nil
}

// ParseProjections parses per-schema projections.
// Format: ["schema:field1,field2", ...] where schema is the writer schema's
// full name.
func ParseProjections(entries []string) (map[string][]string, error) {
	projections := make(map[string][]string)

	for _, entry := range entries {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid projection format: %s (expected 'schema:field1,field2')", entry)
		}

		schema := strings.TrimSpace(parts[0])
		if schema == "" {
			return nil, fmt.Errorf("empty schema name in projection: %s", entry)
		}
		if _, dup := projections[schema]; dup {
			return nil, fmt.Errorf("schema %s has more than one projection", schema)
		}

		keys := strings.Split(parts[1], ",")
		fields := make([]string, 0, len(keys))
		for _, key := range keys {
			key = strings.TrimSpace(key)
			if key == "" {
				return nil, fmt.Errorf("empty field name in: %s", entry)
			}
			fields = append(fields, key)
		}

		projections[schema] = fields
	}

	return projections, nil
}
