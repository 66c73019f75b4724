package encounter

import (
	"errors"
	"strconv"
	"time"

	"github.com/wildbook/encounterdesk/internal/platform/patch"
)

var (
	ErrNotFound = errors.New("encounter not found")
	ErrExists   = errors.New("encounter already exists")
)

// Encounter is one sighting record. Data holds the document fields; ID and
// Version are kept alongside it and merged back in by Document.
type Encounter struct {
	ID        string
	Data      map[string]interface{}
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reserved document members managed by the server.
const (
	fieldID      = "id"
	fieldVersion = "version"
)

// Document returns the JSON view of the encounter.
func (e *Encounter) Document() map[string]interface{} {
	doc := patch.DeepCopy(e.Data)
	if doc == nil {
		doc = make(map[string]interface{})
	}
	doc[fieldID] = e.ID
	doc[fieldVersion] = e.Version
	return doc
}

// FromDocument builds an encounter from a client document, dropping the
// server-managed members.
func FromDocument(doc map[string]interface{}) *Encounter {
	data := patch.DeepCopy(doc)
	if data == nil {
		data = make(map[string]interface{})
	}
	id, _ := data[fieldID].(string)
	delete(data, fieldID)
	delete(data, fieldVersion)
	return &Encounter{ID: id, Data: data}
}

// ---------------------------------------------------------------------------
// Coordinates
// ---------------------------------------------------------------------------

const (
	fieldLatitude  = "decimalLatitude"
	fieldLongitude = "decimalLongitude"
	fieldGeoPoint  = "locationGeoPoint"
)

// syncGeoPoint keeps locationGeoPoint and the decimal coordinate fields in
// agreement after a patch. The decimal fields win when both were touched.
func syncGeoPoint(data map[string]interface{}, ops []patch.Operation) {
	var decimals, point bool
	for _, op := range ops {
		parts := patch.SplitPath(op.Path)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case fieldLatitude, fieldLongitude:
			decimals = true
		case fieldGeoPoint:
			point = true
		}
	}

	switch {
	case decimals:
		lat, latOK := toFloat(data[fieldLatitude])
		lon, lonOK := toFloat(data[fieldLongitude])
		if latOK && lonOK {
			data[fieldLatitude] = lat
			data[fieldLongitude] = lon
			data[fieldGeoPoint] = map[string]interface{}{"lat": lat, "lon": lon}
		} else {
			delete(data, fieldGeoPoint)
		}
	case point:
		gp, _ := data[fieldGeoPoint].(map[string]interface{})
		lat, latOK := toFloat(gp["lat"])
		lon, lonOK := toFloat(gp["lon"])
		if !latOK || !lonOK {
			delete(data, fieldGeoPoint)
			delete(data, fieldLatitude)
			delete(data, fieldLongitude)
			return
		}
		data[fieldGeoPoint] = map[string]interface{}{"lat": lat, "lon": lon}
		data[fieldLatitude] = lat
		data[fieldLongitude] = lon
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
