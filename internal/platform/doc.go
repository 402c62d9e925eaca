// Package platform implements the HTTP client for the recording platform API.
// It handles live-recording registration, per-segment slot requests and blob
// uploads, session finalization, and the multipart batch fallback, with retry
// logic, exponential backoff, and rate limiting.
package platform
