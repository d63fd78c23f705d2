// Package model defines the provider‑agnostic abstractions and concrete
// helpers for interacting with language models inside handoffmesh.
//
// Core goals:
//   - One synchronous Create call per model turn
//   - Normalize tool / function call representation (ToolDefinition, core.FunctionCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for examples (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so higher layers (flow, agent) remain decoupled from vendor SDKs.
package model
