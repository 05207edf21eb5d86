// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

/*
Package api serves the letterbox endpoint.

A single URL carries everything:

	POST  JSON body     uplink from The Things Network (v2 or v3 webhook)
	POST  form body     action=login|logout|changepw
	GET   (and HEAD)    dashboard as HTML, text/plain or JSON

The dashboard output is chosen by the Accept header. The query parameters
dev_id, details, autoreload and lang are handled here; every other
parameter belongs to a hook module (rrd, statistics).

In server mode the router also serves /healthz, /metrics and the /ws live
update socket. In CGI mode the same router handles one request per process.

Error mapping for uplinks:

	ValidationError      500, generic text
	AuthError            401 unknown device, 403 serial or secret mismatch
	ConfigurationError   500
	HookError            500
	ErrBusy              503

Every response is delayed with a small jitter, failures with a larger fixed
delay.
*/
package api
