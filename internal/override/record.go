package override

// Key identifies one override lineage: a coordinate, a date and the owning
// user's email. All four fields are opaque strings; the store performs no
// numeric or calendar validation on them.
type Key struct {
	Latitude  string
	Longitude string
	Date      string
	Owner     string
}

// Record is one stored override version. Records are written once and only
// ever mutated by flipping Active to false when a newer version supersedes
// them or the owner removes the override.
type Record struct {
	Latitude  string                 `firestore:"latitude" json:"latitude"`
	Longitude string                 `firestore:"longitude" json:"longitude"`
	Date      string                 `firestore:"date" json:"date"`
	Owner     string                 `firestore:"owner" json:"owner"`
	Values    map[string]interface{} `firestore:"values" json:"values"`
	UpdatedAt string                 `firestore:"updatedAt" json:"updatedAt"`
	Version   int                    `firestore:"version" json:"version"`
	Active    bool                   `firestore:"active" json:"active"`
}

// KeyOf returns the identity tuple the record is stored under.
func (r *Record) KeyOf() Key {
	return Key{
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Date:      r.Date,
		Owner:     r.Owner,
	}
}
