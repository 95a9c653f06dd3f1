package encoder

import (
	stdjson "encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/segmentio/encoding/json"
	orderedmap "github.com/wk8/go-ordered-map"
)

// StreamEncoder encodes with segmentio's json package and decodes by walking the
// token stream, which keeps object keys in wire order
type StreamEncoder struct{}

func NewStreamEncoder() *StreamEncoder {
	return &StreamEncoder{}
}

func (s *StreamEncoder) Encode(value interface{}) (string, error) {
	bytes, err := json.Marshal(marshalable(value))
	if err != nil {
		return "", fmt.Errorf("failed to encode %T: %w", value, err)
	}
	return string(bytes), nil
}

func (s *StreamEncoder) DecodeMessage(text string) (*orderedmap.OrderedMap, error) {
	decoder := stdjson.NewDecoder(strings.NewReader(text))

	token, err := decoder.Token()
	if err != nil {
		return nil, &DecodeError{Text: text, InnerErr: err}
	}

	if delim, ok := token.(stdjson.Delim); !ok || delim != '{' {
		return nil, &DecodeError{Text: text, InnerErr: fmt.Errorf("expected a JSON object")}
	}

	message, err := decodeObject(decoder)
	if err != nil {
		return nil, &DecodeError{Text: text, InnerErr: err}
	}

	// Anything after the closing brace means this wasn't a single message
	if _, err := decoder.Token(); err != io.EOF {
		return nil, &DecodeError{Text: text, InnerErr: fmt.Errorf("unexpected data after message")}
	}

	return message, nil
}

func decodeObject(decoder *stdjson.Decoder) (*orderedmap.OrderedMap, error) {
	object := orderedmap.New()

	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		key, ok := token.(string)
		if !ok {
			return nil, fmt.Errorf("expected an object key but got %v", token)
		}

		if token, err = decoder.Token(); err != nil {
			return nil, err
		}

		value, err := decodeValue(decoder, token)
		if err != nil {
			return nil, err
		}

		object.Set(key, value)
	}

	// closing brace
	if _, err := decoder.Token(); err != nil {
		return nil, err
	}

	return object, nil
}

func decodeArray(decoder *stdjson.Decoder) ([]interface{}, error) {
	array := []interface{}{}

	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		value, err := decodeValue(decoder, token)
		if err != nil {
			return nil, err
		}

		array = append(array, value)
	}

	// closing bracket
	if _, err := decoder.Token(); err != nil {
		return nil, err
	}

	return array, nil
}

func decodeValue(decoder *stdjson.Decoder, token stdjson.Token) (interface{}, error) {
	switch t := token.(type) {
	case stdjson.Delim:
		switch t {
		case '{':
			return decodeObject(decoder)
		case '[':
			return decodeArray(decoder)
		default:
			return nil, fmt.Errorf("unexpected delimiter %s", t)
		}
	default:
		// string, float64, bool or nil
		return t, nil
	}
}

// orderedObject writes an ordered map's pairs in insertion order
type orderedObject struct {
	om *orderedmap.OrderedMap
}

func (o orderedObject) MarshalJSON() ([]byte, error) {
	var builder strings.Builder
	builder.WriteByte('{')

	first := true
	for pair := o.om.Oldest(); pair != nil; pair = pair.Next() {
		key, err := json.Marshal(fmt.Sprint(pair.Key))
		if err != nil {
			return nil, err
		}

		value, err := json.Marshal(marshalable(pair.Value))
		if err != nil {
			return nil, err
		}

		if !first {
			builder.WriteByte(',')
		}
		first = false

		builder.Write(key)
		builder.WriteByte(':')
		builder.Write(value)
	}

	builder.WriteByte('}')
	return []byte(builder.String()), nil
}

// marshalable swaps ordered maps, including nested ones, for types the json package
// knows how to write
func marshalable(value interface{}) interface{} {
	switch v := value.(type) {
	case *orderedmap.OrderedMap:
		if v == nil {
			return nil
		}
		return orderedObject{om: v}
	case map[string]interface{}:
		converted := make(map[string]interface{}, len(v))
		for key, item := range v {
			converted[key] = marshalable(item)
		}
		return converted
	case []interface{}:
		converted := make([]interface{}, len(v))
		for i, item := range v {
			converted[i] = marshalable(item)
		}
		return converted
	default:
		return value
	}
}
