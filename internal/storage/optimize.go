package storage

import (
	"time"
)

// Field optimization is the lossy pre-step of the codec: before a
// collection is serialized for storage it is normalized to a compact
// canonical shape. This pass is applied unconditionally, even to values
// far below the compression threshold, so the codec's round-trip
// guarantee is defined against the normalized value and NOT against the
// raw scraper output. Truncation and empty-field dropping lose data on
// purpose; the storage quotas are the reason this trade exists.

// Maximum rune lengths applied to task text fields.
var fieldLimits = map[string]int{
	"titulo":      150,
	"descricao":   300,
	"solicitante": 80,
	"unidade":     80,
	"posicao":     40,
	"link":        500,
}

const enderecoLimit = 120

// Optional task fields restored to their zero value when a normalized
// record is expanded back out.
var restoredStringFields = []string{
	"titulo", "descricao", "solicitante", "unidade", "posicao", "link",
}

// dataEnvio layouts accepted when converting the portal's date strings
// to numeric timestamps. The portal emits both ISO and DD/MM forms
// depending on the list view.
var dataEnvioLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

// normalizeValue applies the lossy optimization to a decoded JSON value.
// Lists of task-like records are optimized element-wise; a record
// containing such a list has the list optimized in place. Anything else
// passes through untouched.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []any:
		if isTaskList(val) {
			out := make([]any, len(val))
			for i, item := range val {
				rec, _ := item.(map[string]any)
				out[i] = normalizeRecord(rec)
			}
			return out
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if list, ok := inner.([]any); ok && isTaskList(list) {
				out[k] = normalizeValue(list)
				continue
			}
			out[k] = inner
		}
		return out
	default:
		return v
	}
}

// denormalizeValue reverses normalizeValue: numeric timestamps become
// date strings again and dropped optional fields reappear with their
// defaults. denormalize(normalize(x)) is the canonical form of x and is
// a fixed point of both passes.
func denormalizeValue(v any) any {
	switch val := v.(type) {
	case []any:
		if isTaskList(val) {
			out := make([]any, len(val))
			for i, item := range val {
				rec, _ := item.(map[string]any)
				out[i] = denormalizeRecord(rec)
			}
			return out
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if list, ok := inner.([]any); ok && isTaskList(list) {
				out[k] = denormalizeValue(list)
				continue
			}
			out[k] = inner
		}
		return out
	default:
		return v
	}
}

// isTaskList reports whether a JSON array looks like a list of task
// records. The shape check is deliberately loose: the engine stores
// exactly one kind of record list, and unknown collections must pass
// through the codec untouched rather than be mangled.
func isTaskList(list []any) bool {
	if len(list) == 0 {
		return false
	}
	for _, item := range list {
		rec, ok := item.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := rec["numero"]; !ok {
			return false
		}
	}
	return true
}

func normalizeRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		switch k {
		case "dataEnvio":
			s, ok := v.(string)
			if !ok || s == "" {
				continue
			}
			if ts, found := parseDataEnvio(s); found {
				out["dataEnvioTs"] = float64(ts)
				continue
			}
			out[k] = s
		case "enderecos":
			list, ok := v.([]any)
			if !ok || len(list) == 0 {
				continue
			}
			trimmed := make([]any, 0, len(list))
			for _, e := range list {
				if s, ok := e.(string); ok && s != "" {
					trimmed = append(trimmed, truncate(s, enderecoLimit))
				}
			}
			if len(trimmed) > 0 {
				out[k] = trimmed
			}
		default:
			if s, ok := v.(string); ok {
				if s == "" {
					continue
				}
				if limit, limited := fieldLimits[k]; limited {
					out[k] = truncate(s, limit)
					continue
				}
			}
			out[k] = v
		}
	}
	return out
}

func denormalizeRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec)+len(restoredStringFields))
	for k, v := range rec {
		if k == "dataEnvioTs" {
			if ts, ok := v.(float64); ok {
				out["dataEnvio"] = formatDataEnvio(int64(ts))
				continue
			}
		}
		out[k] = v
	}
	for _, k := range restoredStringFields {
		if _, present := out[k]; !present {
			out[k] = ""
		}
	}
	if _, present := out["enderecos"]; !present {
		out["enderecos"] = []any{}
	}
	return out
}

// parseDataEnvio converts a portal date string to epoch milliseconds.
func parseDataEnvio(s string) (int64, bool) {
	for _, layout := range dataEnvioLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

// formatDataEnvio reconstructs a date string from epoch milliseconds.
// The reconstruction is canonical ISO, not necessarily the layout the
// portal originally used; that loss is part of the documented lossy step.
func formatDataEnvio(ms int64) string {
	t := time.UnixMilli(ms).UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:04:05")
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
