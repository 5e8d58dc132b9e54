package api

// HealthCheck aggregates per-component probes into one response. Probe
// failures mark the component DOWN; the endpoint itself still answers 200,
// it is a liveness signal, not a readiness gate.
type HealthCheck struct {
	service    string
	status     string
	components map[string]HealthComponent
}

type HealthComponent struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Whoami     string                     `json:"whoami"`
	Status     string                     `json:"status"`
	Components map[string]HealthComponent `json:"components"`
}

func NewHealthCheck(service string) *HealthCheck {
	return &HealthCheck{
		service:    service,
		status:     "UP",
		components: make(map[string]HealthComponent),
	}
}

func (h *HealthCheck) Add(name string, probe func() error) {
	status, message := "UP", ""
	if err := probe(); err != nil {
		status = "DOWN"
		message = err.Error()
		h.status = "DOWN"
	}
	h.components[name] = HealthComponent{Status: status, Message: message}
}

func (h *HealthCheck) Build() HealthResponse {
	return HealthResponse{
		Whoami:     h.service,
		Status:     h.status,
		Components: h.components,
	}
}
