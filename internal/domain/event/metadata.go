package event

import (
	"maps"
	"time"
)

// Well-known metadata keys.
const (
	MetadataUserID        = "user_id"
	MetadataCorrelationID = "correlation_id"
	MetadataCausationID   = "causation_id"
	MetadataTimestamp     = "timestamp"
	MetadataIPAddress     = "ip_address"
	MetadataUserAgent     = "user_agent"
)

// Metadata holds causation and audit data attached to committed events.
// Key order is irrelevant.
type Metadata map[string]string

// NewMetadata создает новые метаданные
func NewMetadata(userID, correlationID, causationID string) Metadata {
	m := Metadata{
		MetadataTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if userID != "" {
		m[MetadataUserID] = userID
	}
	if correlationID != "" {
		m[MetadataCorrelationID] = correlationID
	}
	if causationID != "" {
		m[MetadataCausationID] = causationID
	}
	return m
}

// WithIPAddress добавляет IP адрес
func (m Metadata) WithIPAddress(ip string) Metadata {
	out := m.Clone()
	out[MetadataIPAddress] = ip
	return out
}

// WithUserAgent добавляет User-Agent
func (m Metadata) WithUserAgent(ua string) Metadata {
	out := m.Clone()
	out[MetadataUserAgent] = ua
	return out
}

// Clone returns an independent copy. A nil receiver yields an empty, non-nil map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return maps.Clone(m)
}

// Timestamp parses the timestamp entry, returning the zero time if it is missing or malformed.
func (m Metadata) Timestamp() time.Time {
	ts, err := time.Parse(time.RFC3339Nano, m[MetadataTimestamp])
	if err != nil {
		return time.Time{}
	}
	return ts
}
