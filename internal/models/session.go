package models

import "time"

// HostInfo is the static metadata a probe reports when it opens a session.
type HostInfo struct {
	SystemName    string `json:"system_name,omitempty"`
	KernelVersion string `json:"kernel_version,omitempty"`
	OSVersion     string `json:"os_version,omitempty"`
	HostName      string `json:"host_name,omitempty"`
	CPUArch       string `json:"cpu_arch" validate:"required"`
}

// Session is one connected period of a client. ClientID is a weak reference:
// nil once the owning client has been removed.
type Session struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	ClientID  *int64    `gorm:"index" json:"client_id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	// LastActive is the liveness watermark in epoch seconds.
	LastActive int64 `gorm:"index;not null" json:"last_active"`

	SystemName    string `gorm:"column:system_name" json:"system_name,omitempty"`
	KernelVersion string `gorm:"column:kernel_version" json:"kernel_version,omitempty"`
	OSVersion     string `gorm:"column:os_version" json:"os_version,omitempty"`
	HostName      string `gorm:"column:host_name" json:"host_name,omitempty"`
	CPUArch       string `gorm:"column:cpu_arch;not null" json:"cpu_arch"`

	Data []SessionData `gorm:"foreignKey:SessionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (Session) TableName() string { return "sessions" }

// LastActiveTime returns the watermark as a UTC time.
func (s Session) LastActiveTime() time.Time {
	return time.Unix(s.LastActive, 0).UTC()
}
