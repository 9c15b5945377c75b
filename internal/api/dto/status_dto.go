package dto

type HealthResponse struct {
	Status     string            `json:"status"`
	Service    string            `json:"service"`
	WorkerID   string            `json:"worker_id,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

type TaskTypesResponse struct {
	TaskTypes []string `json:"task_types"`
	Count     int      `json:"count"`
}

type SimulateBookingRequest struct {
	Email string `form:"email"`
	Name  string `form:"name"`
}
