package chrono

import "time"

// TimeAPI is the interface that anything depending on the system clock should use.
type TimeAPI interface {
	// Now returns the current time in Location().
	Now() time.Time
	// Location is the timezone the dashboard renders its labels in.
	Location() *time.Location
}

// StandardImpl is the standard implementation of TimeAPI using the standard library.
type StandardImpl struct {
	location *time.Location
}

// NewStandardImpl loads the named timezone, an empty name means the local timezone.
func NewStandardImpl(timezone string) (StandardImpl, error) {
	if timezone == "" {
		return StandardImpl{location: time.Local}, nil
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return StandardImpl{}, err
	}
	return StandardImpl{location: location}, nil
}

func (s StandardImpl) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardImpl) Location() *time.Location {
	return s.location
}
