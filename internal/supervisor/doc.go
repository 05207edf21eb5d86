// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

/*
Package supervisor runs the long-lived parts of the HTTP server mode under
a suture v4 tree. CGI mode handles one request per process and does not
use it.

# Tree

	letterbox
	├── data-layer
	│   └── nonce-gc (badger nonce store only)
	├── messaging-layer
	│   ├── nats-server (events.embedded_server)
	│   ├── websocket-hub (websocket.enabled)
	│   └── websocket-relay (websocket and events enabled)
	└── api-layer
	    └── http-server

Crashed services restart with suture's backoff. Supervisor events are
logged through sutureslog with the zerolog-backed slog logger:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return err
	}
	tree.AddMessagingService(hub)
	tree.AddAPIService(services.NewHTTPServerService(srv, 10*time.Second))
	return tree.Serve(ctx)
*/
package supervisor
