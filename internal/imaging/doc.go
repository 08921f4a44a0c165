// Package imaging loads images and renders annotation previews for the MCP
// server.
//
// All operations work with standard Go image.Image types and use a coordinate
// system where (0,0) is at the top-left corner, X increases rightward, and Y
// increases downward.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - For crops, (x1,y1) is inclusive (top-left), (x2,y2) is exclusive (bottom-right)
//
// Region rectangles are float image-space rectangles. Overlays draw them at a
// display scale in (0, 1].
//
// # Formats
//
// PNG, JPEG and GIF are decoded by the standard library. BMP, TIFF and WebP
// decoders are registered from golang.org/x/image.
//
// # Thread Safety
//
// The ImageCache type is safe for concurrent use. Individual image operations
// are stateless and can be called concurrently on different images.
//
// # Colours
//
// Region colours come from the class: cells are neon yellow, microgels teal,
// and other classes take a palette entry by their position in the class map.
// Excluded microgels are blended towards grey in Lab space. Crops report the
// mean colour as "#rrggbb" and its CIE L* lightness in [0,1].
//
// # Performance Considerations
//
// Use ImageCache to avoid redundant disk reads. Large images may consume
// significant memory when cached. Consider using Evict() or Clear() to manage
// memory for long-running processes.
package imaging
