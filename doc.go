// Package yeelight discovers and controls Yeelight-compatible Wi-Fi smart
// bulbs on the local network via the vendor's third-party LAN control
// protocol: an SSDP-style multicast probe for discovery, and a per-bulb
// line-delimited JSON-RPC session over TCP for control.
package yeelight
