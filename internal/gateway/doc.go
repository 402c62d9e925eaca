// Package gateway implements the websocket client for the voice gateway.
// It joins one channel per connection, keeps the link alive with pings,
// and delivers parsed speaking events and audio frames to consumers
// through a buffered message channel.
package gateway
