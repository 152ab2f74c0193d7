package ai

import (
	"encoding/json"
	"strconv"
	"strings"

	"imovel-scraper/extractor"
	"imovel-scraper/models"
)

// decodeObject decodes the JSON object in reply into dst. The trimmed reply
// is tried as strict JSON first, then the first balanced {...} block found
// in it, so prose or code fences around the object are tolerated.
func decodeObject(reply string, dst any) bool {
	s := strings.TrimSpace(reply)
	if s == "" {
		return false
	}
	if json.Unmarshal([]byte(s), dst) == nil {
		return true
	}
	obj, ok := firstObject(s)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(obj), dst) == nil
}

// firstObject returns the first top-level {...} block of s. Braces inside
// JSON strings are ignored.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ParseReply turns an extraction reply into a PartialRecord. Unknown keys,
// nulls and values that do not convert are dropped; an unreadable reply
// yields an empty record.
func ParseReply(reply string) models.PartialRecord {
	var p models.PartialRecord
	var raw map[string]any
	if !decodeObject(reply, &raw) {
		return p
	}

	for _, f := range extractionManifest {
		v, ok := raw[f.name]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case bool:
			if f.name == models.FieldFinancing {
				p.AcceptsFinancing = models.Bool(val)
			}
		case float64:
			if !extractor.SetNumber(&p, f.name, val) && f.name != models.FieldFinancing {
				extractor.SetField(&p, f.name, strconv.FormatFloat(val, 'f', -1, 64))
			}
		case string:
			extractor.SetField(&p, f.name, val)
		}
	}
	return p
}
