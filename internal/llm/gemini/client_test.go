package gemini

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
)

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text(`[{"naziv":`),
				genai.Blob{MIMEType: "image/png", Data: []byte{1}},
				genai.Text(`"Hleb"}]`),
			}},
		}},
	}
	assert.Equal(t, `[{"naziv":"Hleb"}]`, responseText(resp))
	assert.Equal(t, "", responseText(nil))
	assert.Equal(t, "", responseText(&genai.GenerateContentResponse{}))
}

func TestItemsSchemaShape(t *testing.T) {
	s := itemsSchema()
	assert.Equal(t, genai.TypeArray, s.Type)
	assert.Contains(t, s.Items.Properties, "kategorija")
	assert.ElementsMatch(t, []string{"naziv", "kategorija", "cena", "kolicina"}, s.Items.Required)
}
