package detector

import "strings"

// Channel is a canonical name for one numeric measurement stream.
type Channel string

const (
	ChannelPower       Channel = "power"
	ChannelIndoorTemp  Channel = "indoor_temp"
	ChannelOutdoorTemp Channel = "outdoor_temp"
	ChannelHumidity    Channel = "humidity"
	ChannelIlluminance Channel = "illuminance"
)

// Channels lists every canonical channel in a stable order.
var Channels = []Channel{
	ChannelPower,
	ChannelIndoorTemp,
	ChannelOutdoorTemp,
	ChannelHumidity,
	ChannelIlluminance,
}

// channelAliases maps the spellings seen in sensor exports onto canonical
// channels. Matching is case-insensitive.
var channelAliases = map[string]Channel{
	"power":          ChannelPower,
	"power_w":        ChannelPower,
	"watts":          ChannelPower,
	"w":              ChannelPower,
	"indoor_temp":    ChannelIndoorTemp,
	"indoor_temp_c":  ChannelIndoorTemp,
	"temp_c":         ChannelIndoorTemp,
	"room_temp_c":    ChannelIndoorTemp,
	"temperature":    ChannelIndoorTemp,
	"temp":           ChannelIndoorTemp,
	"outdoor_temp":   ChannelOutdoorTemp,
	"outdoor_temp_c": ChannelOutdoorTemp,
	"outside_temp_c": ChannelOutdoorTemp,
	"outside_temp":   ChannelOutdoorTemp,
	"temp_out_c":     ChannelOutdoorTemp,
	"humidity":       ChannelHumidity,
	"humidity_pct":   ChannelHumidity,
	"rh":             ChannelHumidity,
	"rh_pct":         ChannelHumidity,
	"illuminance":    ChannelIlluminance,
	"lux":            ChannelIlluminance,
	"light_lux":      ChannelIlluminance,
}

// timestampKeys are the field names ingest treats as the reading timestamp.
var timestampKeys = map[string]struct{}{
	"timestamp": {},
	"time":      {},
	"ts":        {},
	"datetime":  {},
}

// ResolveChannel maps a raw field name onto its canonical channel.
func ResolveChannel(name string) (Channel, bool) {
	ch, ok := channelAliases[strings.ToLower(strings.TrimSpace(name))]
	return ch, ok
}

// IsTimestampKey reports whether a raw field name denotes the timestamp.
func IsTimestampKey(name string) bool {
	_, ok := timestampKeys[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
