package telemetry

import "errors"

var (
	// ErrMissingEventName is reported when Fire is called without an event.
	ErrMissingEventName = errors.New("telemetry requires an event name to index")

	// ErrUnsupportedDataType is returned by the normalizer for values it has
	// no rendering for.
	ErrUnsupportedDataType = errors.New("unsupported telemetry data type")

	// ErrInvalidInputData is returned when first-class data is neither a
	// mapping nor Mappable.
	ErrInvalidInputData = errors.New("telemetry data must be a map or implement Mappable")
)
