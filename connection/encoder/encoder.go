/*
Package encoder turns outbound values into wire text and inbound wire text into ordered
maps. Transports never look at JSON directly; they go through the JsonEncoder shared by
their Connection so the decode strategy can be swapped without touching them.

Decoded values use a small closed set of Go types:

	object  -> *orderedmap.OrderedMap (string keys, insertion order kept)
	array   -> []interface{}
	number  -> float64
	string  -> string
	boolean -> bool
	null    -> nil
*/
package encoder

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map"
)

const (
	StreamEncoderName = "stream"
	GJSONEncoderName  = "gjson"
)

type JsonEncoder interface {
	Encode(value interface{}) (string, error)

	// DecodeMessage returns an error for anything that is not a JSON object. Callers
	// treat that error as "no message"
	DecodeMessage(text string) (*orderedmap.OrderedMap, error)
}

func ByName(name string) (JsonEncoder, error) {
	switch name {
	case "", StreamEncoderName:
		return NewStreamEncoder(), nil
	case GJSONEncoderName:
		return NewGJSONEncoder(), nil
	default:
		return nil, fmt.Errorf("unknown encoder: %s", name)
	}
}
