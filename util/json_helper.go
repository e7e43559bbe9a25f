package util

import "encoding/json"

// JSONString compact form for log lines; a value json cannot encode (a
// channel, a func) logs as ""
func JSONString(v interface{}) string {
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return ""
}

// JSONPretty two space indented form, the CLI report format
func JSONPretty(v interface{}) string {
	if data, err := json.MarshalIndent(v, "", "  "); err == nil {
		return string(data)
	}
	return ""
}
