package ndjson

// DeviceState is the kind of device event relayed by the proxy.
type DeviceState int

const (
	DeviceStateUnknown DeviceState = iota
	DeviceStateConnect             // device_connect: true
	DeviceStateUpdate              // device_update: true
)

func (s DeviceState) String() string {
	switch s {
	case DeviceStateConnect:
		return "connect"
	case DeviceStateUpdate:
		return "update"
	}
	return "unknown"
}

// DeviceInfo is the static view of a tracker announced by the proxy.
type DeviceInfo struct {
	IMEI       string      `json:"imei"`
	FWVer      string      `json:"fw_ver,omitempty"`
	Model      string      `json:"model,omitempty"`
	ICCID      string      `json:"iccid,omitempty"`
	RemoteIP   string      `json:"remote_ip,omitempty"`
	RemotePort int         `json:"remote_port,omitempty"`
	State      DeviceState `json:"-"`
}
