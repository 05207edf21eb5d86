// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package models

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ErrNoPayload is returned when an uplink carries no decoded payload.
var ErrNoPayload = errors.New("uplink has no decoded payload")

// Payload holds the decoded sensor fields.
type Payload struct {
	Box       string   `json:"box" validate:"required,oneof=full empty filled emptied"`
	Sensor    *float64 `json:"sensor,omitempty"`
	TempC     *float64 `json:"tempC,omitempty" validate:"omitempty,gte=-60,lte=100"`
	Voltage   *float64 `json:"voltage,omitempty" validate:"omitempty,gte=0,lte=10"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// Gateway is the reception metadata reported for one gateway.
type Gateway struct {
	GatewayID string    `json:"gateway_id,omitempty"`
	RSSI      float64   `json:"rssi"`
	SNR       float64   `json:"snr"`
	Time      time.Time `json:"time,omitempty"`
}

// Uplink is a normalized uplink notification.
type Uplink struct {
	DeviceID       string    `json:"dev_id" validate:"required,deviceid"`
	HardwareSerial string    `json:"hardware_serial" validate:"required,hwserial"`
	Counter        uint32    `json:"counter"`
	Payload        Payload   `json:"payload" validate:"required"`
	Gateways       []Gateway `json:"gateways,omitempty"`
	// NetworkTime is the reception time reported by the network, if any.
	NetworkTime time.Time `json:"network_time,omitempty"`
	// Raw is the body as received, with insignificant whitespace removed.
	Raw json.RawMessage `json:"-"`
}

// BestGateway returns the gateway with the strongest RSSI.
func (u *Uplink) BestGateway() (Gateway, bool) {
	if len(u.Gateways) == 0 {
		return Gateway{}, false
	}
	best := u.Gateways[0]
	for _, g := range u.Gateways[1:] {
		if g.RSSI > best.RSSI {
			best = g
		}
	}
	return best, true
}

// State returns the reported box state. Validation guarantees it parses.
func (u *Uplink) State() BoxState {
	b, _ := ParseBoxState(u.Payload.Box)
	return b
}

type wireGateway struct {
	GtwID      string `json:"gtw_id"`
	GatewayIDs *struct {
		GatewayID string `json:"gateway_id"`
	} `json:"gateway_ids"`
	RSSI float64 `json:"rssi"`
	SNR  float64 `json:"snr"`
	Time string  `json:"time"`
}

// wireUplink covers both the legacy integration and the webhook body.
type wireUplink struct {
	DevID          string   `json:"dev_id"`
	HardwareSerial string   `json:"hardware_serial"`
	Counter        *uint32  `json:"counter"`
	PayloadFields  *Payload `json:"payload_fields"`
	Metadata       *struct {
		Time     string        `json:"time"`
		Gateways []wireGateway `json:"gateways"`
	} `json:"metadata"`

	EndDeviceIDs *struct {
		DeviceID string `json:"device_id"`
		DevEUI   string `json:"dev_eui"`
	} `json:"end_device_ids"`
	ReceivedAt    string `json:"received_at"`
	UplinkMessage *struct {
		FCnt           *uint32       `json:"f_cnt"`
		DecodedPayload *Payload      `json:"decoded_payload"`
		RxMetadata     []wireGateway `json:"rx_metadata"`
		ReceivedAt     string        `json:"received_at"`
	} `json:"uplink_message"`
}

// ParseUplink decodes an uplink body. It normalizes field locations but does
// not validate values; see validation.ValidateStruct.
func ParseUplink(body []byte) (*Uplink, error) {
	var w wireUplink
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decode uplink: %w", err)
	}

	u := &Uplink{
		DeviceID:       w.DevID,
		HardwareSerial: strings.ToUpper(w.HardwareSerial),
	}
	if w.EndDeviceIDs != nil {
		if u.DeviceID == "" {
			u.DeviceID = w.EndDeviceIDs.DeviceID
		}
		if u.HardwareSerial == "" {
			u.HardwareSerial = strings.ToUpper(w.EndDeviceIDs.DevEUI)
		}
	}

	var gateways []wireGateway
	timeStr := w.ReceivedAt
	switch {
	case w.PayloadFields != nil:
		u.Payload = *w.PayloadFields
		if w.Counter != nil {
			u.Counter = *w.Counter
		}
		if w.Metadata != nil {
			gateways = w.Metadata.Gateways
			if w.Metadata.Time != "" {
				timeStr = w.Metadata.Time
			}
		}
	case w.UplinkMessage != nil && w.UplinkMessage.DecodedPayload != nil:
		u.Payload = *w.UplinkMessage.DecodedPayload
		if w.UplinkMessage.FCnt != nil {
			u.Counter = *w.UplinkMessage.FCnt
		}
		gateways = w.UplinkMessage.RxMetadata
		if timeStr == "" {
			timeStr = w.UplinkMessage.ReceivedAt
		}
	default:
		return nil, ErrNoPayload
	}

	if timeStr != "" {
		if t, err := time.Parse(time.RFC3339Nano, timeStr); err == nil {
			u.NetworkTime = t.UTC()
		}
	}
	for _, g := range gateways {
		gw := Gateway{GatewayID: g.GtwID, RSSI: g.RSSI, SNR: g.SNR}
		if g.GatewayIDs != nil && gw.GatewayID == "" {
			gw.GatewayID = g.GatewayIDs.GatewayID
		}
		if g.Time != "" {
			if t, err := time.Parse(time.RFC3339Nano, g.Time); err == nil {
				gw.Time = t.UTC()
			}
		}
		u.Gateways = append(u.Gateways, gw)
	}
	u.Payload.Box = strings.ToLower(strings.TrimSpace(u.Payload.Box))

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return nil, fmt.Errorf("compact uplink: %w", err)
	}
	u.Raw = compact.Bytes()
	return u, nil
}
