package core

import "time"

// Conditions is the mutable snapshot of indoor/outdoor temperature and
// wall-clock schedule the Decision Engine reads. It is mutated only by the
// Controller; every other component treats it as read-only.
type Conditions struct {
	IndoorC   *float64
	OutdoorC  *float64
	Hour      int
	IsWeekday bool
}

// ConditionsDelta is produced by the Sensor Gateway from a state_changed
// event on the configured indoor sensor.
type ConditionsDelta struct {
	IndoorC   float64
	Hour      int
	IsWeekday bool
}

// Apply folds a delta into a Conditions snapshot, producing a new value
// (Conditions is a plain value type — callers own their own copies).
func (c Conditions) Apply(d ConditionsDelta) Conditions {
	indoor := d.IndoorC
	c.IndoorC = &indoor
	c.Hour = d.Hour
	c.IsWeekday = d.IsWeekday
	return c
}

// WithOutdoor returns a copy of c with OutdoorC set to v.
func (c Conditions) WithOutdoor(v *float64) Conditions {
	c.OutdoorC = v
	return c
}

// Now builds the hour/is_weekday portion of a Conditions snapshot from a
// wall-clock time, per spec §4.2 ("hour = now().hour, is_weekday =
// now().day_of_week <= 5").
func Now(t time.Time) (hour int, isWeekday bool) {
	hour = t.Hour()
	wd := t.Weekday()
	// time.Weekday: Sunday=0 ... Saturday=6. spec's day_of_week<=5 treats
	// Monday(1)..Friday(5) as weekdays, Saturday(6)/Sunday(0) as weekend.
	isWeekday = wd >= time.Monday && wd <= time.Friday
	return hour, isWeekday
}
