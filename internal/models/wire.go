package models

// CPUReading is one core's usage fraction. Values outside [0,1] are stored as-is.
type CPUReading struct {
	Core  int     `json:"core"`
	Usage float64 `json:"usage"`
}

type MemoryReading struct {
	Total     uint64 `json:"total"`
	Used      uint64 `json:"used"`
	SwapTotal uint64 `json:"swap_total"`
	SwapUsed  uint64 `json:"swap_used"`
}

type NetworkReading struct {
	IfName  string  `json:"ifname"`
	RxBytes *uint64 `json:"rx_bytes,omitempty"`
	TxBytes *uint64 `json:"tx_bytes,omitempty"`
}

// Sample is one tick as submitted by a probe.
type Sample struct {
	SampleTime int64            `json:"sample_time"`
	CPU        []CPUReading     `json:"cpu"`
	Memory     *MemoryReading   `json:"memory,omitempty"`
	Network    []NetworkReading `json:"network"`
}

// CreateSessionRequest is sent by an agent to open a session with its client token.
type CreateSessionRequest struct {
	Token      string   `json:"token" binding:"required"`
	SystemInfo HostInfo `json:"system_info"`
}

type CreateSessionResponse struct {
	SessionToken   string `json:"session_token"`
	ScrapeInterval int    `json:"scrape_interval"`
}

type WriteSampleResponse struct {
	ID int64 `json:"id"`
}
