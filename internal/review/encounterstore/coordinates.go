package encounterstore

import "github.com/wildbook/encounterdesk/internal/review/validate"

const (
	sectionLocation = "location"
	fieldGeoPoint   = "locationGeoPoint"
	fieldLatitude   = "latitude"
	fieldLongitude  = "longitude"
)

// SetLat edits the latitude in the location draft, keeping the current
// longitude. Both coordinates are revalidated together.
func (s *Store) SetLat(v float64) {
	s.mu.Lock()
	_, lon := s.coordinatesLocked()
	s.mu.Unlock()
	s.setCoordinates(&v, lon)
}

// SetLon edits the longitude.
func (s *Store) SetLon(v float64) {
	s.mu.Lock()
	lat, _ := s.coordinatesLocked()
	s.mu.Unlock()
	s.setCoordinates(lat, &v)
}

// ClearCoordinates removes both coordinates.
func (s *Store) ClearCoordinates() {
	s.setCoordinates(nil, nil)
}

// coordinatesLocked reads the geo point from the location draft when one
// is being edited, otherwise from the base record.
func (s *Store) coordinatesLocked() (lat, lon *float64) {
	if d, ok := s.drafts[sectionLocation]; ok {
		if v, ok := d[fieldGeoPoint]; ok {
			return geoPoint(map[string]interface{}{fieldGeoPoint: v})
		}
	}
	return geoPoint(s.data)
}

func (s *Store) setCoordinates(latp, lonp *float64) {
	lat, lon := ptrValue(latp), ptrValue(lonp)

	ctx := validate.Context{"lat": lat, "lon": lon}
	latErr := s.validate.ValidateFieldValue(sectionLocation, fieldLatitude, lat, ctx)
	lonErr := s.validate.ValidateFieldValue(sectionLocation, fieldLongitude, lon, ctx)

	var point interface{}
	if lat != nil || lon != nil {
		point = map[string]interface{}{"lat": lat, "lon": lon}
	}

	s.mu.Lock()
	s.setErrorLocked(sectionLocation, fieldLatitude, latErr)
	s.setErrorLocked(sectionLocation, fieldLongitude, lonErr)
	d, ok := s.drafts[sectionLocation]
	if !ok {
		d = make(map[string]interface{})
		s.drafts[sectionLocation] = d
	}
	d[fieldGeoPoint] = point
	s.mu.Unlock()

	s.publish(Event{Kind: EventDraft})
}

func ptrValue(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
