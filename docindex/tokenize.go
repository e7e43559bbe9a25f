package docindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

type (
	// JSONDocument the line format accepted by DocumentFromJSON
	JSONDocument struct {
		ID     string                 `json:"id"`
		Fields map[string]interface{} `json:"fields"`
		Data   map[string]string      `json:"data,omitempty"`
	}
)

// ValueToString a scalar field value as text
func ValueToString(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return string(val), nil
	case bool:
		return fmt.Sprintf("%t", val), nil
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprintf("%v", val), nil
	default:
		return "", fmt.Errorf("unsupported value type: %T", v)
	}
}

// FieldTokens the terms a field value is indexed as: text is lower cased and
// split on anything but letters and digits, numbers are kept whole, slices
// are flattened
func FieldTokens(v interface{}) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		return splitWords(s), nil
	}
	if s, err := ValueToString(v); err == nil {
		return []string{s}, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
	var tokens []string
	for i := 0; i < rv.Len(); i++ {
		sub, err := FieldTokens(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, sub...)
	}
	return tokens, nil
}

func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// AddFieldValue index every token of v under field, one occurrence per token
func (doc *Document) AddFieldValue(field string, v interface{}) error {
	tokens, err := FieldTokens(v)
	if err != nil {
		return fmt.Errorf("field %s: %w", field, err)
	}
	for _, token := range tokens {
		doc.AddFieldTerm(field, token, 1)
	}
	return nil
}

// DocumentFromJSON build a document from one JSONDocument object
func DocumentFromJSON(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var jd JSONDocument
	if err := dec.Decode(&jd); err != nil {
		return nil, err
	}

	doc := NewDocument(jd.ID)
	for field, v := range jd.Fields {
		if err := doc.AddFieldValue(field, v); err != nil {
			return nil, err
		}
	}
	for k, v := range jd.Data {
		doc.SetData(k, v)
	}
	return doc, nil
}
