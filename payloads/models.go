package payloads

import (
	"encoding/json"
	"fmt"

	"github.com/dria-x-project/dkn/catalog"
)

// ModelEntry is a (provider, model) pair, serialized as a two-element
// array, e.g. ["openai","gpt-4o"].
type ModelEntry struct {
	Provider catalog.ModelProvider
	Model    catalog.Model
}

// ModelEntries builds the wire list for a set of models.
func ModelEntries(models []catalog.Model) []ModelEntry {
	entries := make([]ModelEntry, 0, len(models))
	for _, model := range models {
		entries = append(entries, ModelEntry{Provider: model.Provider(), Model: model})
	}
	return entries
}

// MarshalJSON encodes the pair as a two-element array.
func (e ModelEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.Provider.String(), e.Model.String()})
}

// UnmarshalJSON decodes the pair from a two-element array.
func (e *ModelEntry) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}

	provider, err := catalog.ParseProvider(pair[0])
	if err != nil {
		return err
	}
	model, err := catalog.ParseModel(pair[1])
	if err != nil {
		return err
	}
	if model.Provider() != provider {
		return fmt.Errorf("model %s does not belong to provider %s", model, provider)
	}

	e.Provider = provider
	e.Model = model
	return nil
}
