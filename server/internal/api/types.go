package api

// Response messages.
const (
	msgNoValues       = "no values for metric in range"
	msgNotFound       = "metric not found"
	msgUnavailable    = "connecting to backend metrics service failed with error 'request timed out'"
	msgInternal       = "internal server error"
	msgRouteNotFound  = "not found"
	msgMethodNotAllow = "method not allowed"
)

// unknownBackend labels checks naming a backend that is not configured.
const unknownBackend = "unknown"

// ValueResponse is the body of an evaluated check, passing or not.
type ValueResponse struct {
	Value float64 `json:"value"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Health string `json:"health"`
}

type errorResponse struct {
	Error string `json:"error"`
}
