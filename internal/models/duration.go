package models

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Duration is a time.Duration that is written to JSON in its human readable form ("10s", "30m")
type Duration time.Duration

// Std returns the duration as time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler. Plain numbers are read as nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return errors.Wrapf(err, "invalid duration '%s'", val)
		}
		*d = Duration(parsed)
	default:
		return errors.Errorf("invalid duration value %v", v)
	}
	return nil
}
