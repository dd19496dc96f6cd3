package web

// targetRequest is the body of POST /api/v1/target.
type targetRequest struct {
	Temperature *float64 `json:"temperature" binding:"required"`
}

// modeRequest is the body of POST /api/v1/mode.
type modeRequest struct {
	Mode          string `json:"mode" binding:"required"`
	HeaterEnabled *bool  `json:"heater_enabled"`
}

// busCheckResponse is the result of POST /api/v1/bus/check.
type busCheckResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Details busCheckDetails `json:"details"`
}

type busCheckDetails struct {
	Broker      string `json:"broker,omitempty"`
	Connected   bool   `json:"connected"`
	LastError   string `json:"last_error,omitempty"`
	RoundTripMS int64  `json:"round_trip_ms"`
	Timestamp   string `json:"timestamp"`
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// publishResponse reports which transports accepted a write.
type publishResponse struct {
	CloudWritten bool   `json:"cloud_written"`
	BusWritten   bool   `json:"bus_written"`
	Error        string `json:"error,omitempty"`
	Field        string `json:"field,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version uint64 `json:"version"`
	Stale   bool   `json:"stale"`
	Uptime  int64  `json:"uptime_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// wsEnvelope frames every WebSocket message.
type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}
