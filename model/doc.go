// Package model defines the provider‑agnostic abstractions and concrete
// helpers for interacting with hosted language models inside AgencyMesh.
//
// Core goals:
//   - Unify streaming + non‑streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, ToolCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (Claude, Gemini, OpenAI) implement the Model interface from this
// package so higher layers (agents, agency) remain decoupled from vendor SDKs.
// Adapters classify vendor failures into *core.ProviderError values so that
// retry decisions are made uniformly by the agent.
package model
