package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefixSystem is the base for system topics.
const TopicPrefixSystem = "graylogic/system"

// Topics provides builders for the topics owned by this package.
// Bridge topics are built by the bridge itself.
type Topics struct{}

// ClientStatus returns the retained online/offline topic for a client.
//
// Example: graylogic/system/status/fs20gateway
func (Topics) ClientStatus(clientID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefixSystem, clientID)
}

// validatePublishTopic rejects empty topics and wildcards, which are only
// legal in subscriptions.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}
