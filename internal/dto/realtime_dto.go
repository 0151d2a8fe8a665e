package dto

// TestBroadcastRequest is the optional body of POST /api/test/broadcast.
type TestBroadcastRequest struct {
	Message string `json:"message" validate:"omitempty,max=500"`
	Type    string `json:"type" validate:"omitempty,max=32"`
}

// PollOpenResponse is returned when a long-poll session starts.
type PollOpenResponse struct {
	SID          string `json:"sid"`
	PingInterval int64  `json:"pingInterval"`
	PingTimeout  int64  `json:"pingTimeout"`
}
