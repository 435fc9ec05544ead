package enrich

import "strings"

// configErrorMarkers identify provider failures caused by configuration
// (credentials, billing) rather than transient trouble. These surface as
// StatusDisabled so the pipeline stops asking, while timeouts and 5xx
// responses stay StatusError and are retried on the next run.
var configErrorMarkers = []string{
	"api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
	"billing",
	"credit balance",
	"quota",
}

// statusForError maps a provider error to a Result status.
func statusForError(err error) string {
	if err == nil {
		return StatusOK
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range configErrorMarkers {
		if strings.Contains(msg, marker) {
			return StatusDisabled
		}
	}
	return StatusError
}
