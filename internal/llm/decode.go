package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrEmptyResponse = errors.New("empty classifier response")
	ErrInvalidJSON   = errors.New("classifier response is not valid JSON")
	ErrSchema        = errors.New("classifier response has unexpected shape")
)

// RawItem is one decoded response element before normalization.
// Numbers are kept as json.Number.
type RawItem map[string]any

// DecodeResult is the tagged outcome of Decode: either OK with Items, or
// failed with Err. Raw always holds the text that was decoded.
type DecodeResult struct {
	OK    bool
	Items []RawItem
	Err   error
	Raw   string
}

var (
	itemsSchemaOnce sync.Once
	itemsSchema     *jsonschema.Schema
	itemsSchemaErr  error
)

func compiledItemsSchema() (*jsonschema.Schema, error) {
	itemsSchemaOnce.Do(func() {
		itemsSchema, itemsSchemaErr = CompileSchema(BuildItemsJSONSchema())
	})
	return itemsSchema, itemsSchemaErr
}

// Decode strictly parses a classifier response. A single object is accepted
// and coerced to a one-element list; anything else that is not an array of
// objects fails.
func Decode(raw string) DecodeResult {
	res := DecodeResult{Raw: raw}
	text := StripCodeFence(raw)
	if text == "" {
		res.Err = ErrEmptyResponse
		return res
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		return res
	}
	if _, err := dec.Token(); err != io.EOF {
		res.Err = fmt.Errorf("%w: trailing data after JSON value", ErrInvalidJSON)
		return res
	}

	schema, err := compiledItemsSchema()
	if err != nil {
		res.Err = err
		return res
	}
	if err := ValidateJSONAgainstSchema(schema, []byte(text)); err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrSchema, err)
		return res
	}

	switch t := v.(type) {
	case []any:
		res.Items = make([]RawItem, 0, len(t))
		for _, el := range t {
			obj, _ := el.(map[string]any)
			res.Items = append(res.Items, RawItem(obj))
		}
	case map[string]any:
		res.Items = []RawItem{RawItem(t)}
	}
	res.OK = true
	return res
}

// EncodeItems is the inverse used by tests and fakes to build responses.
func EncodeItems(items []RawItem) string {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(items)
	return strings.TrimSpace(buf.String())
}
