package jobsource

import "encoding/json"

// searchResponse mirrors the JSearch /search payload. Entries are decoded
// lazily so a single malformed entry cannot fail the whole response.
type searchResponse struct {
	Status string            `json:"status"`
	Data   []json.RawMessage `json:"data"`
}

type searchEntry struct {
	JobTitle          string `json:"job_title"`
	JobLocation       string `json:"job_location"`
	JobEmploymentType string `json:"job_employment_type"`
}
