package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed strategy_schema.json
var strategySchemaJSON []byte

//go:embed itinerary_schema.json
var itinerarySchemaJSON []byte

// Descriptor names a JSON Schema that structured generation output must satisfy.
// The raw document is handed to providers; the compiled form validates replies.
type Descriptor struct {
	Name string
	Raw  []byte

	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
}

// New wraps a raw JSON Schema document.
func New(name string, raw []byte) *Descriptor {
	return &Descriptor{Name: name, Raw: raw}
}

var (
	// Strategy describes models.SearchStrategy.
	Strategy = New("search_strategy", strategySchemaJSON)
	// Itinerary describes models.TripItinerary.
	Itinerary = New("trip_itinerary", itinerarySchemaJSON)
)

// Compile returns the compiled schema, compiling it on first use.
func (d *Descriptor) Compile() (*jsonschema.Schema, error) {
	d.compileOnce.Do(func() {
		url := d.Name + ".json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(url, bytes.NewReader(d.Raw)); err != nil {
			d.compileErr = fmt.Errorf("add schema resource %s: %w", d.Name, err)
			return
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			d.compileErr = fmt.Errorf("compile schema %s: %w", d.Name, err)
			return
		}
		d.compiled = compiled
	})
	return d.compiled, d.compileErr
}

// Map decodes the raw schema into a generic object, the form provider SDKs take.
func (d *Descriptor) Map() (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal(d.Raw, &out); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", d.Name, err)
	}
	return out, nil
}

// Validate checks that data is JSON conforming to the schema.
func (d *Descriptor) Validate(data []byte) error {
	compiled, err := d.Compile()
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("output is not valid JSON: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("output does not match %s schema: %w", d.Name, err)
	}
	return nil
}

// Decode validates data and unmarshals it into out.
func (d *Descriptor) Decode(data []byte, out interface{}) error {
	if err := d.Validate(data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", d.Name, err)
	}
	return nil
}
