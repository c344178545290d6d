package api

import (
	"errors"
	"time"
)

var (
	errMalformedProperties = errors.New("event_properties must be a JSON object")
	errBadFeaturePath      = errors.New("path must match ^can[a-z]{1,16}$")
)

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
