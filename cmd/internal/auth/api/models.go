package api

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

type verifyRequest struct {
	Token    string `json:"token"`
	DeviceID string `json:"device_id"`
}

type logoutRequest struct {
	Token string `json:"token"`
}

type userResponse struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	UserType   string `json:"user_type"`
	MaxDevices int    `json:"max_devices"`
}

type loginResponse struct {
	Token            string       `json:"token"`
	SessionID        string       `json:"session_id"`
	DeviceID         string       `json:"device_id"`
	ExpiresInSeconds int64        `json:"expires_in_seconds"`
	User             userResponse `json:"user"`
}

type verifyResponse struct {
	Valid     bool   `json:"valid"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type logoutResponse struct {
	OK bool `json:"ok"`
}

type deviceLimitDetail struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	Limit            int    `json:"limit"`
	BlockingDeviceID string `json:"blocking_device_id,omitempty"`
}

type deviceLimitResponse struct {
	Error deviceLimitDetail `json:"error"`
}

type streamResponse struct {
	Handle           string `json:"handle"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}
