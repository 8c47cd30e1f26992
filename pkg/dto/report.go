package dto

// ReportResponse wraps every analytics report. From/To are empty for
// all-time reports.
type ReportResponse struct {
	Report string `json:"report"`
	Period string `json:"period,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Data   any    `json:"data"`
}
