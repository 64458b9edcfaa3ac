package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Readiness reports whether the service can serve traffic.
type Readiness struct {
	Status     HealthStatus      `json:"status"`
	Time       Timestamp         `json:"time"`
	Components []ComponentStatus `json:"components"`
}

// ComponentStatus represents the status of a guarded dependency.
type ComponentStatus struct {
	Name          string       `json:"name"`
	Status        HealthStatus `json:"status"`
	Circuit       string       `json:"circuit,omitempty"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	Message       *string      `json:"message,omitempty"`
}

// ResetResult is returned by the admin reset endpoint.
type ResetResult struct {
	Reset bool   `json:"reset"`
	By    string `json:"by,omitempty"`
}
