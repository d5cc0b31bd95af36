package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes.
const (
	// TopicPrefix is the base for every greeter topic.
	TopicPrefix = "greeter"

	// TopicPrefixSystem is the base for process status topics.
	TopicPrefixSystem = "greeter/system"
)

// Topics provides builders for greeter MQTT topics.
//
//	topic := mqtt.Topics{}.EntityState("light.kitchen")
//	// Returns: "greeter/state/light.kitchen"
type Topics struct{}

// EntityState returns the retained state topic for one entity.
//
// MQTT wildcard and separator characters in the ID are replaced by '_'.
func (Topics) EntityState(entityID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, sanitise(entityID))
}

// AllEntityStates matches every entity state topic.
func (Topics) AllEntityStates() string {
	return TopicPrefix + "/state/+"
}

// SystemStatus returns the online/offline status topic (also the LWT topic).
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

var topicReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

func sanitise(segment string) string {
	return topicReplacer.Replace(segment)
}
