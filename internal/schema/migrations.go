package schema

import (
	"encoding/json"
	"fmt"
	"math"
)

// DefaultContractVersion is assumed for documents written before contract
// versions were recorded.
const DefaultContractVersion = "1.0"

// migrateV1toV2 adds the fields version 2 requires. Existing values are
// never overwritten.
func migrateV1toV2(doc map[string]any) error {
	if _, ok := doc["replay_status"]; !ok {
		md, ok := doc["model_metadata"].(map[string]any)
		if !ok {
			return fmt.Errorf("cannot derive replay_status: model_metadata missing")
		}
		temp, ok := Float(md["temperature"])
		if !ok {
			return fmt.Errorf("cannot derive replay_status: model_metadata.temperature is %v", md["temperature"])
		}
		if temp == 0 {
			doc["replay_status"] = "REPLAYABLE"
		} else {
			doc["replay_status"] = "NON_REPLAYABLE"
		}
	}

	for _, key := range []string{"contract_version", "agent_contract_version"} {
		if _, ok := doc[key]; !ok {
			doc[key] = DefaultContractVersion
		}
	}

	raw, ok := doc["entries"]
	if !ok {
		return nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("entries is %T, expected array", raw)
	}
	for i, e := range entries {
		rec, ok := e.(map[string]any)
		if !ok {
			return fmt.Errorf("entries[%d] is %T, expected object", i, e)
		}
		if _, ok := rec["seq"]; !ok {
			rec["seq"] = int64(i + 1)
		}
	}
	return nil
}

// Int reads an integral JSON number in any of the Go shapes a decoded
// document may hold.
func Int(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.Abs(n) > 1<<53 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return Int(f)
	}
	return 0, false
}

// Float reads a finite JSON number.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return Float(f)
	}
	return 0, false
}
