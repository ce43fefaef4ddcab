package models

// SessionData is the parent row of one sampling tick. It and its children are
// append-only.
type SessionData struct {
	ID         int64 `gorm:"primaryKey" json:"id"`
	SessionID  int64 `gorm:"index;not null" json:"session_id"`
	SampleTime int64 `gorm:"not null" json:"sample_time"`

	CPU     []SessionDataCPU     `gorm:"foreignKey:SessionDataID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"cpu"`
	Memory  *SessionDataMemory   `gorm:"foreignKey:SessionDataID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"memory,omitempty"`
	Network []SessionDataNetwork `gorm:"foreignKey:SessionDataID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"network"`
}

func (SessionData) TableName() string { return "session_data" }

// SessionDataCPU holds one core's usage for a tick.
type SessionDataCPU struct {
	ID            int64   `gorm:"primaryKey" json:"-"`
	SessionDataID int64   `gorm:"index;not null" json:"-"`
	CPUID         int     `gorm:"column:cpu_id;not null" json:"cpu_id"`
	CPUUsage      float64 `gorm:"column:cpu_usage;not null" json:"cpu_usage"`
}

func (SessionDataCPU) TableName() string { return "session_data_cpu" }

type SessionDataMemory struct {
	SessionDataID int64 `gorm:"primaryKey;autoIncrement:false" json:"-"`
	Total         int64 `gorm:"not null" json:"total"`
	Used          int64 `gorm:"not null" json:"used"`
	SwapTotal     int64 `gorm:"not null" json:"swap_total"`
	SwapUsed      int64 `gorm:"not null" json:"swap_used"`
}

func (SessionDataMemory) TableName() string { return "session_data_memory" }

// SessionDataNetwork is keyed by (session_data_id, ifname) so a single tick can
// carry several interfaces. Counters are nil when the interface reports no stats.
type SessionDataNetwork struct {
	SessionDataID int64  `gorm:"primaryKey;autoIncrement:false" json:"-"`
	IfName        string `gorm:"primaryKey;column:ifname" json:"ifname"`
	RxBytes       *int64 `gorm:"column:rx_bytes" json:"rx_bytes"`
	TxBytes       *int64 `gorm:"column:tx_bytes" json:"tx_bytes"`
}

func (SessionDataNetwork) TableName() string { return "session_data_network" }
