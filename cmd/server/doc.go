// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

/*
Package main is the letterbox endpoint: it takes TTN uplinks from letterbox
sensors, keeps the per-device box status and serves the dashboard.

# Serving Modes

server.mode selects how requests arrive:

	http  long-running chi server under a suture supervisor tree
	cgi   one request per process through net/http/cgi
	auto  cgi when GATEWAY_INTERFACE is set, http otherwise

Both modes use the same router, so a CGI deployment behaves exactly like
the server at its script path. The websocket hub, the relay and the
embedded NATS server only run in http mode.

# Component Initialization

 1. Configuration: koanf with defaults, config file (CONFIG_PATH) and LETTERBOX_* env
 2. Logging: zerolog on stderr (stdout carries CGI responses)
 3. Storage: device registry, status store and device locks
 4. Modules: auth, notify, rrd, statistics, events, websocket
 5. Ingestion service and API handler
 6. Supervisor tree (http mode) or a single CGI request

# Example Usage

	export LETTERBOX_DATADIR=/var/lib/letterbox
	export LETTERBOX_AUTH=true
	./letterbox

As a CGI script, set server.mode=cgi or rely on auto detection and point
the web server at the binary.
*/
package main
