package pubsub

import (
	"fmt"
	"strings"
)

// Catalog channels follow "catalog:product:{productID}:{event}".
const (
	ChannelPriceDrop     = "catalog:product:%s:price_drop"
	ChannelPriceRecorded = "catalog:product:%s:price_recorded"

	PatternPriceDrop     = "catalog:product:*:price_drop"
	PatternPriceRecorded = "catalog:product:*:price_recorded"
)

// Event types carried on the catalog channels.
const (
	EventPriceDrop     = "price_drop"
	EventPriceRecorded = "price_recorded"
)

// PriceDropChannel returns the channel a catalog job publishes a detected
// price drop for productID on.
func PriceDropChannel(productID string) string {
	return fmt.Sprintf(ChannelPriceDrop, productID)
}

// PriceRecordedChannel returns the channel announcing that a new price point
// was appended for productID.
func PriceRecordedChannel(productID string) string {
	return fmt.Sprintf(ChannelPriceRecorded, productID)
}

// PriceRecordedPayload announces a new price point without saying whether
// it is a drop. Subscribers look the series up themselves.
type PriceRecordedPayload struct {
	ProductID string `json:"productId"`
	StoreID   string `json:"storeId,omitempty"`
}

// channelToTopicAndKey maps a channel onto a Kafka topic and message key.
//
//	"catalog:product:P1:price_drop"     → topic "catalog-price-drop", key "P1"
//	"catalog:product:P1:price_recorded" → topic "catalog-price-recorded", key "P1"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[1] != "product" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	topic = parts[0] + "-" + strings.ReplaceAll(parts[3], "_", "-")
	return topic, parts[2], nil
}

// patternToTopic maps a wildcard subscription onto its Kafka topic.
func patternToTopic(pattern string) (string, error) {
	topic, _, err := channelToTopicAndKey(strings.ReplaceAll(pattern, "*", "any"))
	return topic, err
}
