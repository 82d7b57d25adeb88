package llm

// BuildItemsJSONSchema describes an accepted classifier response: an array
// of item objects, or a single item object. Only the object shape is
// enforced; any field value is accepted and coerced in NormalizeItem.
func BuildItemsJSONSchema() map[string]any {
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"definitions": map[string]any{
			"item": map[string]any{"type": "object"},
		},
		"oneOf": []any{
			map[string]any{
				"type":  "array",
				"items": map[string]any{"$ref": "#/definitions/item"},
			},
			map[string]any{"$ref": "#/definitions/item"},
		},
	}
}
