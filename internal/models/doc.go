// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

/*
Package models defines the data structures shared by Letterbox packages.

Key Components:

  - BoxState: the four observable letterbox states. full and empty are
    steady states, filled and emptied mark the update in which the box changed.
  - Uplink: a decoded uplink notification. ParseUplink accepts both the
    legacy HTTP integration shape (dev_id, payload_fields, metadata, counter)
    and the webhook shape (end_device_ids, uplink_message).
  - Snapshot: the persisted status record of one device.
  - Update: what post-ingestion hooks receive for every accepted uplink.
*/
package models
