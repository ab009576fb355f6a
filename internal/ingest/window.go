package ingest

import (
	"time"
	_ "time/tzdata" // Europe/London must resolve without a system zoneinfo.

	"github.com/sells-group/yesterday/internal/model"
)

// ReferenceZone is the zone whose calendar days define a window.
const ReferenceZone = "Europe/London"

var london = mustLoadLocation(ReferenceZone)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("ingest: load location " + name + ": " + err.Error())
	}
	return loc
}

// London returns the reference location.
func London() *time.Location { return london }

// ForDate returns the window covering date in Europe/London.
func ForDate(date model.Date) model.DateWindow {
	return ForDateIn(date, london)
}

// ForDateIn returns the window from local midnight of date to local midnight
// of the following day in loc, as UTC instants. The span is 23h, 24h or 25h
// depending on DST.
func ForDateIn(date model.Date, loc *time.Location) model.DateWindow {
	return model.DateWindow{
		Date:  date,
		Start: date.Midnight(loc).UTC(),
		End:   date.AddDays(1).Midnight(loc).UTC(),
	}
}
