// Package models contains the persistence-layer entities for the sequence engine
package models

import (
	"database/sql/driver"
	"fmt"
)

// ChannelType identifies the delivery channel of a sequence step
type ChannelType string

const (
	ChannelTypeEmail  ChannelType = "email"
	ChannelTypeSMS    ChannelType = "sms"
	ChannelTypeSocial ChannelType = "social"
	ChannelTypeVoice  ChannelType = "voice"
)

// String returns the string representation of the channel type
func (c ChannelType) String() string {
	return string(c)
}

// Valid checks if the channel type is valid
func (c ChannelType) Valid() bool {
	switch c {
	case ChannelTypeEmail, ChannelTypeSMS, ChannelTypeSocial, ChannelTypeVoice:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ChannelType
func (c *ChannelType) Scan(value any) error {
	if value == nil {
		*c = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*c = ChannelType(v)
	case []byte:
		*c = ChannelType(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ChannelType", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for ChannelType
func (c ChannelType) Value() (driver.Value, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid ChannelType: %s", c)
	}
	return string(c), nil
}
