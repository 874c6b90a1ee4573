package schema

import (
	"testing"

	"github.com/mohammad-safakhou/wayfarer/models"
)

func TestStrategySchema(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"reasoning":"cover food and beaches","queries":["rio beaches","rio food"]}`, false},
		{"duplicate queries allowed", `{"reasoning":"r","queries":["a","a"]}`, false},
		{"missing queries", `{"reasoning":"r"}`, true},
		{"empty queries", `{"reasoning":"r","queries":[]}`, true},
		{"wrong type", `{"reasoning":"r","queries":"rio"}`, true},
		{"not json", `reasoning: r`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Strategy.Validate([]byte(tc.payload))
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestItineraryDecode(t *testing.T) {
	payload := []byte(`{
        "destination": "Rio de Janeiro",
        "overview": "Three days of beaches and views",
        "duration_days": 3,
        "days": [
            {"day": 1, "theme": "Beaches", "activities": [
                {"time_of_day": "morning", "title": "Copacabana", "description": "Walk the promenade"}
            ]}
        ],
        "sources": ["https://example.com"]
    }`)
	var it models.TripItinerary
	if err := Itinerary.Decode(payload, &it); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if it.Destination != "Rio de Janeiro" || len(it.Days) != 1 || it.Days[0].Activities[0].Title != "Copacabana" {
		t.Fatalf("unexpected itinerary: %+v", it)
	}
}

func TestItineraryRequiresOverview(t *testing.T) {
	var it models.TripItinerary
	if err := Itinerary.Decode([]byte(`{"destination":"Rio"}`), &it); err == nil {
		t.Fatalf("expected schema failure")
	}
}

func TestMapExposesProperties(t *testing.T) {
	m, err := Strategy.Map()
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	props, ok := m["properties"].(map[string]interface{})
	if !ok || props["queries"] == nil {
		t.Fatalf("expected queries property, got %v", m)
	}
}
