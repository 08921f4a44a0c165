// Package detect holds the collaborators that produce detections for a set
// of images.
//
// Every detector returns an annotation.Batch: a class map plus one image item
// per input path. Three implementations exist:
//
//   - HTTPDetector posts the images to an object-detection service as a
//     multipart form and decodes its {classMap, images} response.
//   - OllamaDetector asks a vision model served by Ollama for normalized
//     bounding boxes and converts them to pixel regions.
//   - Local reads image dimensions only and returns items without regions,
//     for annotating by hand.
//
// Confidence and IoU thresholds are clamped to [0, 1] before use.
package detect
