package trail

// Place is one geocoding match. Coordinates stay strings as Nominatim sends
// them.
type Place struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// Trail is a path, footway or hiking route near the searched point.
type Trail struct {
	ID         int64             `json:"id"`
	Type       string            `json:"type"`
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	Lat        float64           `json:"lat"`
	Lon        float64           `json:"lon"`
	DistanceKm float64           `json:"distance_km"`
	Tags       map[string]string `json:"tags,omitempty"`
}

type SearchQuery struct {
	Lat    float64
	Lon    float64
	Radius int // meters
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    *float64          `json:"lat"`
	Lon    *float64          `json:"lon"`
	Center *overpassPoint    `json:"center"`
	Tags   map[string]string `json:"tags"`
}

type overpassPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}
