package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// ChannelType is the broadcast band a channel belongs to.
type ChannelType string

// Channel types.
const (
	ChannelTypeGR        ChannelType = "GR"
	ChannelTypeBS        ChannelType = "BS"
	ChannelTypeCS        ChannelType = "CS"
	ChannelTypeCATV      ChannelType = "CATV"
	ChannelTypeSKY       ChannelType = "SKY"
	ChannelTypeBS4K      ChannelType = "BS4K"
	ChannelTypeStarDigio ChannelType = "STARDIGIO"
	ChannelTypeOther     ChannelType = "OTHER"
)

// ChannelTypeFromNetworkID maps an ARIB network id to a channel type.
// Terrestrial networks use ids of 0x7880 and above.
func ChannelTypeFromNetworkID(networkID uint16) ChannelType {
	switch {
	case networkID == 4:
		return ChannelTypeBS
	case networkID == 3 || networkID == 6 || networkID == 7 || networkID == 10:
		return ChannelTypeCS
	case networkID >= 0x7880:
		return ChannelTypeGR
	default:
		return ChannelTypeOther
	}
}

// Channel represents a broadcast service.
//
// Identity is (network_id, service_id); the display channel id is derived
// from the type and channel number (e.g. "gr011", "bs101"). Channels are
// rebuilt wholesale on EPG refresh and never mutated per-client.
type Channel struct {
	BaseModel

	// NetworkID is the ARIB network id (original_network_id).
	NetworkID uint16 `gorm:"not null;uniqueIndex:idx_channel_identity" json:"network_id"`

	// ServiceID is the ARIB service id within the network.
	ServiceID uint16 `gorm:"not null;uniqueIndex:idx_channel_identity" json:"service_id"`

	// TransportStreamID is the transport stream carrying this service, if known.
	TransportStreamID *uint16 `json:"transport_stream_id,omitempty"`

	// RemoconID is the broadcaster's remote-control preset digit.
	RemoconID uint8 `gorm:"default:0" json:"remocon_id"`

	// ChannelNumber is the 3-digit channel number, with an optional "-N"
	// suffix disambiguating services that share a remocon id.
	ChannelNumber string `gorm:"not null;size:8" json:"channel_number"`

	// DisplayChannelID is lower(type) + channel number (e.g. "gr011").
	DisplayChannelID string `gorm:"not null;size:16;uniqueIndex" json:"display_channel_id"`

	// Type is the broadcast band.
	Type ChannelType `gorm:"not null;size:10;index" json:"type"`

	// Name is the service name from SDT.
	Name string `gorm:"not null;size:255" json:"name"`

	IsSubchannel   bool `gorm:"default:false" json:"is_subchannel"`
	IsRadiochannel bool `gorm:"default:false" json:"is_radiochannel"`
	IsWatchable    bool `gorm:"default:true" json:"is_watchable"`
}

// TableName returns the table name for Channel.
func (Channel) TableName() string {
	return "channels"
}

// BuildDisplayChannelID derives the public channel identifier.
func BuildDisplayChannelID(channelType ChannelType, channelNumber string) string {
	return strings.ToLower(string(channelType)) + channelNumber
}

// Validate performs basic validation on the channel.
func (c *Channel) Validate() error {
	if c.ChannelNumber == "" {
		return fmt.Errorf("channel number is required")
	}
	if c.DisplayChannelID == "" {
		return fmt.Errorf("display channel id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("channel name is required")
	}
	return nil
}

// Value implements driver.Valuer so ChannelType stores as text.
func (t ChannelType) Value() (driver.Value, error) {
	return string(t), nil
}

// Scan implements sql.Scanner.
func (t *ChannelType) Scan(value any) error {
	switch v := value.(type) {
	case string:
		*t = ChannelType(v)
	case []byte:
		*t = ChannelType(v)
	case nil:
		*t = ""
	default:
		return fmt.Errorf("unsupported type for ChannelType: %T", value)
	}
	return nil
}
