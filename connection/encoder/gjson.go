package encoder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/segmentio/encoding/json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	orderedmap "github.com/wk8/go-ordered-map"
)

// GJSONEncoder builds outbound documents path by path with sjson and reads inbound
// ones with gjson
type GJSONEncoder struct{}

func NewGJSONEncoder() *GJSONEncoder {
	return &GJSONEncoder{}
}

func (g *GJSONEncoder) Encode(value interface{}) (string, error) {
	raw, err := build(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode %T: %w", value, err)
	}
	return raw, nil
}

func (g *GJSONEncoder) DecodeMessage(text string) (*orderedmap.OrderedMap, error) {
	if !gjson.Valid(text) {
		return nil, &DecodeError{Text: text, InnerErr: fmt.Errorf("invalid JSON")}
	}

	result := gjson.Parse(text)
	if !result.IsObject() {
		return nil, &DecodeError{Text: text, InnerErr: fmt.Errorf("expected a JSON object")}
	}

	return toObject(result), nil
}

func toObject(result gjson.Result) *orderedmap.OrderedMap {
	object := orderedmap.New()
	result.ForEach(func(key, value gjson.Result) bool {
		object.Set(key.String(), toValue(value))
		return true
	})
	return object
}

func toValue(result gjson.Result) interface{} {
	switch result.Type {
	case gjson.String:
		return result.Str
	case gjson.Number:
		return result.Num
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.JSON:
		if result.IsObject() {
			return toObject(result)
		}

		array := []interface{}{}
		result.ForEach(func(_, item gjson.Result) bool {
			array = append(array, toValue(item))
			return true
		})
		return array
	default:
		return nil
	}
}

func build(value interface{}) (string, error) {
	switch v := value.(type) {
	case *orderedmap.OrderedMap:
		if v == nil {
			return "null", nil
		}

		document := "{}"
		for pair := v.Oldest(); pair != nil; pair = pair.Next() {
			var err error
			if document, err = setKey(document, fmt.Sprint(pair.Key), pair.Value); err != nil {
				return "", err
			}
		}
		return document, nil

	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		document := "{}"
		for _, key := range keys {
			var err error
			if document, err = setKey(document, key, v[key]); err != nil {
				return "", err
			}
		}
		return document, nil

	case []interface{}:
		document := "[]"
		for _, item := range v {
			raw, err := build(item)
			if err != nil {
				return "", err
			}

			if document, err = sjson.SetRaw(document, "-1", raw); err != nil {
				return "", err
			}
		}
		return document, nil

	default:
		bytes, err := json.Marshal(value)
		if err != nil {
			return "", err
		}
		return string(bytes), nil
	}
}

func setKey(document string, key string, value interface{}) (string, error) {
	raw, err := build(value)
	if err != nil {
		return "", err
	}

	if key == "" {
		return appendEmptyKey(document, raw)
	}

	return sjson.SetRaw(document, escapePath(key), raw)
}

// sjson has no path for the empty key, so the member is spliced onto the end of the object
func appendEmptyKey(document string, raw string) (string, error) {
	document = strings.TrimSpace(document)
	if !strings.HasPrefix(document, "{") || !strings.HasSuffix(document, "}") {
		return "", fmt.Errorf("cannot add a member to %s", document)
	}

	member := `"":` + raw
	if strings.TrimSpace(document[1:len(document)-1]) == "" {
		return "{" + member + "}", nil
	}
	return document[:len(document)-1] + "," + member + "}", nil
}

// sjson treats these as path syntax, so keys containing them are escaped
var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`#`, `\#`,
	`|`, `\|`,
	`@`, `\@`,
	`:`, `\:`,
)

func escapePath(key string) string {
	return pathEscaper.Replace(key)
}
