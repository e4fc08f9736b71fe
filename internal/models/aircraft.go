package models

// AircraftRecord is one row of the bulk aircraft database. The indexed
// columns are extracted for querying; Record keeps every field of the
// source row in its original order.
type AircraftRecord struct {
	ICAO24       string // Primary key - lowercase hex address
	Registration string // Aircraft registration (e.g., N12345)
	TypeCode     string // ICAO type designator
	Manufacturer string
	Model        string
	Owner        string // Owner or operator
	Country      string
	DBFlags      int64 // ADSBx dbFlags bitmask, 0 when unknown
	Record       Attrs
}

// ADSBx dbFlags bits
const (
	DBFlagMilitary    int64 = 1
	DBFlagInteresting int64 = 2
	DBFlagPIA         int64 = 4
	DBFlagLADD        int64 = 8
)

// flagColumns are the boolean columns of the ADSBx basic database that
// stand in for dbFlags bits
var flagColumns = []struct {
	key string
	bit int64
}{
	{"mil", DBFlagMilitary},
	{"faa_pia", DBFlagPIA},
	{"faa_ladd", DBFlagLADD},
}

// FlagColumnMask folds the true boolean flag columns of a record into a
// dbFlags mask. folded is the record's Fold index.
func FlagColumnMask(a Attrs, folded map[string]string) int64 {
	var mask int64
	for _, col := range flagColumns {
		real, ok := folded[col.key]
		if !ok {
			continue
		}
		if b, ok := a.Get(real).(bool); ok && b {
			mask |= col.bit
		}
	}
	return mask
}
