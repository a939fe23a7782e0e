// Package mcp implements the Model Context Protocol (MCP) server exposing
// shell session tools.
//
// # Overview
//
// The server speaks JSON-RPC 2.0 over newline-delimited JSON on
// stdin/stdout. Clients initialize the connection, list the available tools,
// and drive shell sessions through tools/call requests.
//
// # Tools
//
//	tether_spawn — start a persistent shell session
//	tether_exec  — run a command in a session, return output and exit code
//	tether_list  — list live sessions and their state
//	tether_close — terminate a session
//
// # Request Flow
//
//	MCP client (stdin)
//	    ↓ (JSON-RPC tool call)
//	Server.handleToolsCall
//	    ↓
//	registry.Registry → shell.Session
//	    ↓
//	tool result (stdout) — payload serialized as JSON text content
//
// # Error Reporting
//
// Protocol-level failures (unparseable JSON, unknown method, missing
// required arguments) use JSON-RPC error responses. Tool-level failures
// (unknown session, spawn failure) are reported in-band as a successful
// response whose payload has status "error", so clients always get a
// structured payload for a well-formed call.
package mcp
