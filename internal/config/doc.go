// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

/*
Package config provides centralized configuration management for Letterbox.

# Configuration Sources

Configuration is layered with koanf, later layers overriding earlier ones:

 1. Compiled defaults (defaultConfig)
 2. A config file, located via CONFIG_PATH or DefaultConfigPaths
 3. Environment variables listed in envTransformFunc

Files ending in .yaml or .yml are parsed as YAML. Any other file is read in
the classic flat format of one key=value pair per line:

	# letterbox.conf
	datadir=/var/lib/letterbox
	autoregister=true
	threshold.sensorA=120
	notify.email.enabled=false

Short keys such as datadir or threshold.<device> are mapped onto their
structured paths (storage.datadir, ingest.thresholds.<device>). Keys below
ext. are not interpreted and are handed to modules through
Config.Extensions.

# Environment Variables

Server:
  - LETTERBOX_MODE: auto, http or cgi (default: auto)
  - LETTERBOX_HOST / LETTERBOX_PORT: listen address (default: 127.0.0.1:8080)
  - LETTERBOX_CORS_ORIGINS: comma-separated origins for the JSON dashboard

Storage and ingestion:
  - LETTERBOX_DATADIR: data directory (default: /var/lib/letterbox)
  - LETTERBOX_AUTOREGISTER: register unseen devices on first uplink
  - LETTERBOX_SECRET_HEADER: header carrying the per-device secret

Authentication:
  - LETTERBOX_AUTH: enable the dashboard login
  - LETTERBOX_HTPASSWD: credential file (user:hash[:acl])
  - LETTERBOX_CAPTCHA: recaptcha, hcaptcha, turnstile or internal

Logging:
  - LOG_LEVEL: trace, debug, info, warn, error (default: info)
  - LOG_FORMAT: json or console (default: json)

# Thread Safety

A *Config returned by Load is read-only and may be shared freely.
*/
package config
