/*
Package config loads engine settings and pathway contracts from YAML or JSON.

# Overview

Config wraps a decoded document (map[string]any) and offers typed accessors
that fall back to a default on missing keys or type mismatches. The
loaders build on it:

	cfg, err := config.FromFile("pathways.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	settings, err := config.LoadEngineSettings(cfg)
	contracts, err := config.LoadContracts(cfg)
	store, err := config.OpenStore(ctx, settings.State)

# Document Layout

	engine:
	  timeout: 10s              # confirmation wait
	  poll_interval: 100ms
	  session_ttl: 10s
	  mark_processed_on_exhausted_retries: true
	  retry:
	    max_retries: 3
	    delay: 500ms
	  timeouts:
	    orders/placed: 2s
	state:
	  driver: sqlite            # memory | sqlite | postgres
	  dsn: ./pathways.db
	  table: pathway_state
	  ttl: 5m
	pathways:
	  - flow_type: orders
	    event_type: placed
	    max_retries: 5
	    retry_delay: 1s
	    schema:
	      strict: true
	      fields:
	        - {name: orderId, type: string}
	        - {name: note, type: string, optional: true}

# Type Coercion

Durations accept Go duration strings ("30s", "1h30m") or numbers of
seconds. Integers accept whole floats, which is what JSON produces.
*/
package config
