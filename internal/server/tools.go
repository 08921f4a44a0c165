package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func schema(props map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

// indexProp is the optional image index shared by per-image tools.
var indexProp = prop("integer", "Image index in the session (0-based). Defaults to the active image")

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Session
		{
			Name:        "annotator_detect",
			Description: "Run the configured detector on image files and add the results to the session. The first new image becomes active. Fails if a detection is already running.",
			InputSchema: schema(map[string]interface{}{
				"paths": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Absolute paths of the images to detect",
				},
				"conf": map[string]interface{}{
					"type":        "number",
					"description": "Minimum detection confidence in [0,1]. Default from config (0.25)",
				},
				"iou": map[string]interface{}{
					"type":        "number",
					"description": "Non-maximum suppression IoU in [0,1]. Default from config (0.45)",
				},
			}, "paths"),
		},
		{
			Name:        "annotator_import_images",
			Description: "Add images to the session without running detection. Either give image paths (no regions) or a saved detection response ({classMap, images}) inline or as a JSON file.",
			InputSchema: schema(map[string]interface{}{
				"paths": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Absolute paths of images to annotate by hand",
				},
				"batch": map[string]interface{}{
					"type":        "object",
					"description": "A detection response with classMap and images",
				},
				"batch_path": prop("string", "Path to a JSON file holding a detection response"),
			}),
		},
		{
			Name:        "annotator_list_images",
			Description: "List the images in the session with their counts, the active index and the session totals.",
			InputSchema: schema(map[string]interface{}{}),
		},
		{
			Name:        "annotator_set_active",
			Description: "Make another image the active one.",
			InputSchema: schema(map[string]interface{}{
				"index": prop("integer", "Image index (0-based)"),
			}, "index"),
		},

		// Rules and counts
		{
			Name:        "annotator_get_rules",
			Description: "Return the overlap and edge rule thresholds shared by every image.",
			InputSchema: schema(map[string]interface{}{}),
		},
		{
			Name:        "annotator_set_rules",
			Description: "Change the rule thresholds and recount every image. Values out of range are clamped.",
			InputSchema: schema(map[string]interface{}{
				"overlap_iou":          prop("number", "Microgels overlapping at or above this IoU are both excluded. Range [0,1]"),
				"edge_outside_percent": prop("number", "Microgels with more than this percent of their area outside the image are excluded. Range [0,100]"),
			}),
		},
		{
			Name:        "annotator_counts",
			Description: "Evaluate the rules on one image: counts, valid microgels, counted cells and why each excluded microgel was excluded.",
			InputSchema: schema(map[string]interface{}{"index": indexProp}),
		},
		{
			Name:        "annotator_regions",
			Description: "List the regions of one image in pixel coordinates, with class and exclusion status.",
			InputSchema: schema(map[string]interface{}{"index": indexProp}),
		},

		// Editing
		{
			Name:        "annotator_editor_state",
			Description: "Return the editor state of one image: mode, active class, selection, display scale, drag and draw status, counts.",
			InputSchema: schema(map[string]interface{}{"index": indexProp}),
		},
		{
			Name:        "annotator_key",
			Description: "Send a key press to the editor. Escape selects, R draws, D erases, Delete/Backspace removes the selected region in select mode, 1-9 pick the active class.",
			InputSchema: schema(map[string]interface{}{
				"index": indexProp,
				"key":   prop("string", "Key name, e.g. \"r\", \"Escape\", \"Delete\", \"2\""),
			}, "key"),
		},
		{
			Name:        "annotator_pointer",
			Description: "Send pointer input to the editor in display coordinates (image pixels times the display scale). Use click for a press and release at one point, or drag for press, move and release.",
			InputSchema: schema(map[string]interface{}{
				"index": indexProp,
				"action": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"down", "move", "up", "click", "drag"},
					"description": "Pointer action",
				},
				"x":    prop("number", "Display X of the action (start point for drag)"),
				"y":    prop("number", "Display Y of the action (start point for drag)"),
				"to_x": prop("number", "Drag end X"),
				"to_y": prop("number", "Drag end Y"),
			}, "action", "x", "y"),
		},
		{
			Name:        "annotator_set_mode",
			Description: "Switch the editor mode. Any draw or drag in progress is dropped.",
			InputSchema: schema(map[string]interface{}{
				"index": indexProp,
				"mode": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"select", "draw", "erase"},
					"description": "Editor mode",
				},
			}, "mode"),
		},
		{
			Name:        "annotator_set_active_class",
			Description: "Set the class used for newly drawn regions.",
			InputSchema: schema(map[string]interface{}{
				"index":    indexProp,
				"class_id": prop("integer", "Class id from the class map"),
			}, "class_id"),
		},
		{
			Name:        "annotator_reclassify",
			Description: "Change the class of the selected region, or of region_id which is selected first.",
			InputSchema: schema(map[string]interface{}{
				"index":     indexProp,
				"region_id": prop("string", "Region to reclassify. Defaults to the selection"),
				"class_id":  prop("integer", "New class id"),
			}, "class_id"),
		},
		{
			Name:        "annotator_delete_region",
			Description: "Delete a region by id and recount the image.",
			InputSchema: schema(map[string]interface{}{
				"index":     indexProp,
				"region_id": prop("string", "Region id"),
			}, "region_id"),
		},
		{
			Name:        "annotator_set_scale",
			Description: "Set the editor display scale directly, or fit the image into a display width without enlarging it.",
			InputSchema: schema(map[string]interface{}{
				"index":     indexProp,
				"scale":     prop("number", "Display scale, greater than 0"),
				"fit_width": prop("number", "Display width to fit. Used when scale is omitted; defaults to the configured width"),
			}),
		},

		// Output
		{
			Name:        "annotator_export_yolo",
			Description: "Export YOLO labels (classId cx cy w h, normalized). One image returns its label text; all=true writes a zip of labels/<name>.txt plus classes.txt.",
			InputSchema: schema(map[string]interface{}{
				"index":       indexProp,
				"all":         prop("boolean", "Export every image as a zip"),
				"output_path": prop("string", "File to write. Without it the text, or the base64 zip, is returned"),
			}),
		},
		{
			Name:        "annotator_export_report",
			Description: "Export the per-image count report as CSV with the rule thresholds used and a total row.",
			InputSchema: schema(map[string]interface{}{
				"output_path": prop("string", "CSV file to write. Without it the CSV text is returned"),
			}),
		},
		{
			Name:        "annotator_render_overlay",
			Description: "Render the image with its regions drawn over it as a base64 PNG. Excluded microgels are greyed and the selected region is highlighted.",
			InputSchema: schema(map[string]interface{}{
				"index":       indexProp,
				"scale":       prop("number", "Display scale in (0,1]. Defaults to the editor scale"),
				"show_counts": prop("boolean", "Draw \"microgel,cell\" counts in the corner"),
			}),
		},
		{
			Name:        "annotator_crop_region",
			Description: "Crop one region out of its image as a base64 PNG with its mean colour and lightness.",
			InputSchema: schema(map[string]interface{}{
				"index":     indexProp,
				"region_id": prop("string", "Region id"),
				"pad":       prop("integer", "Extra pixels on each side. Default 0"),
				"scale":     prop("number", "Resize factor for the crop. Default 1"),
			}, "region_id"),
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
