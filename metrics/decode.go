package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotArray is returned when the payload is valid JSON but not an array.
var ErrNotArray = errors.New("expected a JSON array of metric records")

// Decode parses a metrics payload: a JSON array of objects carrying "name"
// and "value". Order is preserved. An empty array yields an empty, non-nil
// slice. Unknown fields are ignored.
func Decode(body []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty response body")
	}

	var elems []jsoniter.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, err
	}
	if trimmed[0] != '[' {
		return nil, ErrNotArray
	}

	records := make([]Record, 0, len(elems))
	for i, elem := range elems {
		rec, err := decodeRecord(elem)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRecord(raw []byte) (Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Record{}, fmt.Errorf("expected object, got %s", describeRaw(raw))
	}

	var rec Record
	iter := json.BorrowIterator(raw)
	defer json.ReturnIterator(iter)
	iter.ReadMapCB(func(it *jsoniter.Iterator, field string) bool {
		fieldRaw := it.SkipAndReturnBytes()
		switch field {
		case "name":
			rec.Name = parseValue(fieldRaw).String()
		case "value":
			rec.Value = parseValue(fieldRaw)
		}
		return true
	})
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return Record{}, iter.Error
	}
	return rec, nil
}

func parseValue(raw []byte) Value {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Value{}
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{text: string(raw), kind: KindString}
		}
		return String(s)
	case 't', 'f':
		return Value{text: string(raw), kind: KindBool}
	case 'n':
		return Value{text: "null", kind: KindNull}
	case '{', '[':
		return Value{text: string(raw), kind: KindComposite}
	default:
		return Number(string(raw))
	}
}

func describeRaw(raw []byte) string {
	if len(raw) == 0 {
		return "nothing"
	}
	switch raw[0] {
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
