// Package server implements the MCP (Model Context Protocol) server for the
// microgel annotator.
//
// The server exposes a session of annotated microscopy images: detection
// results are imported, edited region by region, counted under the overlap
// and edge rules, and exported as YOLO labels or a CSV count report.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Session:
//   - annotator_detect: Run the detector on image files
//   - annotator_import_images: Add images by path or from a saved detection response
//   - annotator_list_images: List images, counts and totals
//   - annotator_set_active: Switch the active image
//
// Rules and counts:
//   - annotator_get_rules, annotator_set_rules: Read or change thresholds
//   - annotator_counts: Full rule evaluation with exclusion reasons
//   - annotator_regions: Regions in pixel space
//
// Editing (pointer coordinates are in display space):
//   - annotator_editor_state, annotator_key, annotator_pointer
//   - annotator_set_mode, annotator_set_active_class, annotator_set_scale
//   - annotator_reclassify, annotator_delete_region
//
// Output:
//   - annotator_export_yolo: Label text or a zip of every image
//   - annotator_export_report: CSV report with a total row
//   - annotator_render_overlay: PNG preview with regions drawn
//   - annotator_crop_region: PNG crop of one region
//
// Tools that take an optional index act on the active image when it is
// omitted.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: The Go error string
//
// # Usage
//
//	srv := server.New(server.WithConfig(cfg), server.WithLogger(log))
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal("server stopped", zap.Error(err))
//	}
package server
