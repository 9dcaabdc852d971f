package mmodel

import (
	"os"
	"time"

	"github.com/google/uuid"
)

// ServiceInstance is the registry entry a service instance advertises on
// every batch call.
type ServiceInstance struct {
	InstanceID      string         `json:"instanceId"`
	ServiceName     string         `json:"serviceName"`
	HostName        string         `json:"hostName"`
	ProcessID       int            `json:"processId"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	LastHeartbeatAt time.Time      `json:"lastHeartbeatAt"`
}

// NewServiceInstance builds an instance identity with a version-7 uuid.
func NewServiceInstance(serviceName string) ServiceInstance {
	host, _ := os.Hostname()

	return ServiceInstance{
		InstanceID:  uuid.Must(uuid.NewV7()).String(),
		ServiceName: serviceName,
		HostName:    host,
		ProcessID:   os.Getpid(),
	}
}

// Info projects the instance identity onto the hop shape.
func (s ServiceInstance) Info() ServiceInstanceInfo {
	return ServiceInstanceInfo{
		InstanceID:  s.InstanceID,
		ServiceName: s.ServiceName,
		HostName:    s.HostName,
		ProcessID:   s.ProcessID,
	}
}
