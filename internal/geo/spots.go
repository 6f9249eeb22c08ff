package geo

import "github.com/example/airbear/internal/models"

// Table is an immutable set of spots.
type Table struct {
	spots []models.Spot
	byID  map[string]models.Spot
}

func NewTable(spots []models.Spot) *Table {
	t := &Table{spots: make([]models.Spot, len(spots)), byID: make(map[string]models.Spot, len(spots))}
	copy(t.spots, spots)
	for _, s := range spots {
		t.byID[s.ID] = s
	}
	return t
}

// DefaultTable is the Binghamton network.
func DefaultTable() *Table { return NewTable(binghamtonSpots) }

// All returns a copy of every spot in table order.
func (t *Table) All() []models.Spot {
	out := make([]models.Spot, len(t.spots))
	copy(out, t.spots)
	return out
}

// Active returns spots open for booking.
func (t *Table) Active() []models.Spot {
	out := make([]models.Spot, 0, len(t.spots))
	for _, s := range t.spots {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out
}

func (t *Table) Lookup(id string) (models.Spot, bool) {
	s, ok := t.byID[id]
	return s, ok
}

// Distance returns the great-circle distance in km between two spots.
// ok is false when either id is unknown.
func (t *Table) Distance(a, b string) (float64, bool) {
	sa, ok := t.byID[a]
	if !ok {
		return 0, false
	}
	sb, ok := t.byID[b]
	if !ok {
		return 0, false
	}
	if a == b {
		return 0, true
	}
	return Haversine(sa.Latitude, sa.Longitude, sb.Latitude, sb.Longitude), true
}

var binghamtonSpots = []models.Spot{
	{ID: "court-street", Name: "Court Street Downtown", Latitude: 42.0987, Longitude: -75.9179, IsActive: true},
	{ID: "binghamton-university", Name: "Binghamton University", Latitude: 42.0893, Longitude: -75.9696, IsActive: true},
	{ID: "bgm-airport", Name: "Greater Binghamton Airport", Latitude: 42.2087, Longitude: -75.9798, IsActive: true},
	{ID: "oakdale-mall", Name: "Oakdale Mall", Latitude: 42.1158, Longitude: -75.9646, IsActive: true},
	{ID: "intermodal-terminal", Name: "Intermodal Transportation Center", Latitude: 42.1018, Longitude: -75.9110, IsActive: true},
	{ID: "recreation-park", Name: "Recreation Park", Latitude: 42.0968, Longitude: -75.9382, IsActive: true},
	{ID: "otsiningo-park", Name: "Otsiningo Park", Latitude: 42.1247, Longitude: -75.8858, IsActive: true},
	{ID: "ross-park-zoo", Name: "Ross Park Zoo", Latitude: 42.0785, Longitude: -75.9040, IsActive: true},
	{ID: "confluence-park", Name: "Confluence Park Riverwalk", Latitude: 42.0946, Longitude: -75.9133, IsActive: true},
	{ID: "wilson-hospital", Name: "Wilson Medical Center", Latitude: 42.1126, Longitude: -75.9592, IsActive: true},
	{ID: "mirabito-stadium", Name: "Mirabito Stadium", Latitude: 42.1015, Longitude: -75.9066, IsActive: true},
	{ID: "veterans-arena", Name: "Veterans Memorial Arena", Latitude: 42.0953, Longitude: -75.9163, IsActive: true},
	{ID: "cheri-lindsey-park", Name: "Cheri A. Lindsey Park", Latitude: 42.1052, Longitude: -75.9255, IsActive: true},
	{ID: "clinton-street", Name: "Clinton Street Antique Row", Latitude: 42.1066, Longitude: -75.9286, IsActive: true},
	{ID: "vestal-parkway", Name: "Vestal Parkway Plaza", Latitude: 42.0938, Longitude: -75.9871, IsActive: true},
	{ID: "endicott-square", Name: "Endicott Square", Latitude: 42.0990, Longitude: -76.0499, IsActive: true},
}
