package stack

import (
	"encoding/json"
	"fmt"
)

// Subscriptions maps a topic to the callback URLs of its subscribers.
type Subscriptions map[string][]string

// SubscriberURL is the in-network callback address of a function.
func SubscriberURL(function string, gatewayPort int) string {
	return fmt.Sprintf("http://%s:%d", function, gatewayPort)
}

// DeriveSubscriptions computes the topic to subscriber map for s. Subscribers
// are listed in function order; declared topics without subscribers map to an
// empty list.
func DeriveSubscriptions(s *Stack, gatewayPort int) Subscriptions {
	subs := Subscriptions{}
	if s == nil {
		return subs
	}
	for _, topic := range s.Topics {
		if topic.Name == "" {
			continue
		}
		if _, ok := subs[topic.Name]; !ok {
			subs[topic.Name] = []string{}
		}
	}
	for _, fn := range s.Functions {
		seen := map[string]bool{}
		for _, sub := range fn.Subs {
			if sub.Topic == "" || seen[sub.Topic] {
				continue
			}
			seen[sub.Topic] = true
			subs[sub.Topic] = append(subs[sub.Topic], SubscriberURL(fn.Name, gatewayPort))
		}
	}
	return subs
}

// Encode serialises the map into the single environment value handed to
// every container.
func (s Subscriptions) Encode() (string, error) {
	if s == nil {
		s = Subscriptions{}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode subscriptions: %w", err)
	}
	return string(raw), nil
}
