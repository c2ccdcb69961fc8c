package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "toolmgmt"

// Topics builds the service's MQTT topics under a common prefix.
//
//	topics := mqtt.NewTopics("toolmgmt")
//	topics.Counter("5701")        // toolmgmt/counter/5701
//	topics.RegistryInvalidate()   // toolmgmt/registry/invalidate
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix. Surrounding slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic prefix.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Presence carries the retained Presence of one instance, including the
// last will.
//
// Example: toolmgmt/instance/toolmgmt-01/presence
func (t Topics) Presence(instance string) string {
	return fmt.Sprintf("%s/instance/%s/presence", t.Prefix(), instance)
}

// Counter carries part counter readings of one machine.
//
// Example: toolmgmt/counter/5701
func (t Topics) Counter(machineNumber string) string {
	return fmt.Sprintf("%s/counter/%s", t.Prefix(), machineNumber)
}

// MachineStatus carries the retained counter poll status of one machine.
//
// Example: toolmgmt/machine/5701/status
func (t Topics) MachineStatus(machineNumber string) string {
	return fmt.Sprintf("%s/machine/%s/status", t.Prefix(), machineNumber)
}

// LogbookEntry carries logbook entries as they are stored.
//
// Example: toolmgmt/logbook/5701/tool_change
func (t Topics) LogbookEntry(machineNumber, kind string) string {
	return fmt.Sprintf("%s/logbook/%s/%s", t.Prefix(), machineNumber, kind)
}

// RegistryInvalidate asks every instance to drop its machine cache.
//
// Example: toolmgmt/registry/invalidate
func (t Topics) RegistryInvalidate() string {
	return t.Prefix() + "/registry/invalidate"
}

// AllCounters matches every counter topic.
func (t Topics) AllCounters() string {
	return t.Prefix() + "/counter/+"
}

// AllPresence matches the presence topic of every instance.
func (t Topics) AllPresence() string {
	return t.Prefix() + "/instance/+/presence"
}

// AllLogbookEntries matches every logbook topic.
func (t Topics) AllLogbookEntries() string {
	return t.Prefix() + "/logbook/+/+"
}

// MachineNumber extracts the machine segment from a counter, machine status
// or logbook topic.
func (t Topics) MachineNumber(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix()+"/")
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 2 && parts[0] == "counter":
		return parts[1], parts[1] != ""
	case len(parts) == 3 && (parts[0] == "logbook" || (parts[0] == "machine" && parts[2] == "status")):
		return parts[1], parts[1] != ""
	}
	return "", false
}
