// Package main is the entry point for the tracelens backend.
//
// The server ingests instrumentation events from agent SDKs over a
// WebSocket connection, fans them out to tenant-scoped viewer rooms, and
// serves trace and insight queries over a REST API.
//
// The process provides:
//   - REST API for trace reads, purges, and insight retrieval
//   - WebSocket streaming for agents and dashboard viewers
//   - Optional Postgres persistence of ingested events
//   - Optional AI-backed trace diagnostics with heuristic fallback
//
// Configuration is environment-only (12-factor); see
// internal/infrastructure/config for the full surface.
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
