// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

/*
Package services provides suture.Service wrappers for letterbox components
whose lifecycle is not already a Serve(ctx) loop.

# Available Services

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - Converts the blocking ListenAndServe into Serve

Periodic Task (PeriodicService):
  - Runs a function on a fixed interval until the context ends
  - Used for badger value log collection of the nonce store

The websocket hub, the websocket relay and the embedded NATS server
implement suture.Service themselves and are added to the tree directly.

# Usage

	srv := &http.Server{Addr: ":8080", Handler: router}
	tree.AddAPIService(services.NewHTTPServerService(srv, 10*time.Second))

	gc := services.NewPeriodicService("nonce-gc", 10*time.Minute, nonces.CollectGarbage)
	tree.AddDataService(gc)
*/
package services
