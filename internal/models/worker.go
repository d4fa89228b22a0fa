package models

import (
	"time"
)

// WorkerStatus tracks whether a worker is considered part of the live fleet.
type WorkerStatus string

const (
	WorkerStatusOnline  WorkerStatus = "online"
	WorkerStatusOffline WorkerStatus = "offline"
)

// Worker is a data-plane node, keyed by its IP. Workers belong to the global
// fleet, not to any user.
type Worker struct {
	ID          int64        `json:"id" db:"id"`
	IP          string       `json:"ip" db:"ip"`
	IPv6        string       `json:"ipv6" db:"ipv6"`
	Hostname    string       `json:"hostname" db:"hostname"`
	Region      string       `json:"region" db:"region"`
	IPInfo      string       `json:"ip_info" db:"ip_info"`
	MachineInfo string       `json:"machine_info" db:"machine_info"`
	Status      WorkerStatus `json:"status" db:"status"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// IPInfo is the request body a worker sends on every sync call. It mirrors
// the ipinfo.io response shape the agents collect at boot.
type IPInfo struct {
	IP       string `json:"ip"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Loc      string `json:"loc"`
	Org      string `json:"org"`
	Timezone string `json:"timezone"`
	Hostname string `json:"hostname"`
}

// RegionName flattens the location fields into the region string persisted
// on the worker row.
func (i *IPInfo) RegionName() string {
	if i.Country == "" && i.Region == "" && i.City == "" {
		return ""
	}
	return i.Country + "-" + i.Region + "-" + i.City
}
