package server

// Wire shapes preserved from the legacy driver: clients key on WSQImage,
// BMPBase64 (a PNG despite the name), NFIQ and NativeTemplate.

// ScanData is the payload of a successful scan.
type ScanData struct {
	WSQImage       string `json:"WSQImage"`
	BMPBase64      string `json:"BMPBase64"`
	NFIQ           int    `json:"NFIQ"`
	NativeTemplate string `json:"NativeTemplate"`
}

// ScanResponse wraps scan data or an error.
type ScanResponse struct {
	Data  *ScanData `json:"data,omitempty"`
	Error string    `json:"error,omitempty"`
}

// IdentifyRequest carries the probe template.
type IdentifyRequest struct {
	NativeTemplate string `json:"nativeTemplate"`
}

// IdentifyResponse is the shaped identification outcome.
type IdentifyResponse struct {
	MatchFound      bool    `json:"matchFound"`
	SuspectID       string  `json:"suspectId,omitempty"`
	Score           float64 `json:"score,omitempty"`
	FingerType      string  `json:"fingerType,omitempty"`
	OriginalQuality *int    `json:"originalQuality,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// ConvertResponse is the payload of a format conversion.
type ConvertResponse struct {
	WSQImage string `json:"WSQImage,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ExtractResponse is the payload of a standalone template extraction.
type ExtractResponse struct {
	NativeTemplate string `json:"NativeTemplate"`
	Error          string `json:"error,omitempty"`
}

// ErrorResponse is the generic failure envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
