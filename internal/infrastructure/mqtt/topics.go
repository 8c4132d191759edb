package mqtt

import "fmt"

// TopicPrefixDevices is the root of every per-device bridge topic.
const TopicPrefixDevices = "/devices"

// Message types a device publishes under.
const (
	MessageTypeEvents = "events"
	MessageTypeState  = "state"
)

// Topics provides builders for the bridge's per-device topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.DeviceTelemetry("terminal-01", "events")
//	// Returns: "/devices/terminal-01/events"
type Topics struct{}

// DeviceTelemetry returns the topic a device publishes to.
//
// Example: /devices/terminal-01/state
func (Topics) DeviceTelemetry(deviceID, messageType string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevices, deviceID, messageType)
}

// DeviceConfig returns the topic the bridge delivers configuration on.
//
// Example: /devices/terminal-01/config
func (Topics) DeviceConfig(deviceID string) string {
	return fmt.Sprintf("%s/%s/config", TopicPrefixDevices, deviceID)
}

// DeviceCommands returns the base command topic. Commands may also arrive on
// subfolders below it.
//
// Example: /devices/terminal-01/commands
func (Topics) DeviceCommands(deviceID string) string {
	return fmt.Sprintf("%s/%s/commands", TopicPrefixDevices, deviceID)
}

// AllDeviceCommands returns the wildcard covering every command subfolder.
//
// Example: /devices/terminal-01/commands/#
func (t Topics) AllDeviceCommands(deviceID string) string {
	return t.DeviceCommands(deviceID) + "/#"
}
