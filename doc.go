// Package armloop drives an SO-101 robot arm from a learned policy's
// predictions inside a fixed-rate control loop, behind a layered software
// safety envelope, with live telemetry.
//
// # Usage
//
// Write an armloop.json configuration, then start an episode:
//
//	armloop run --config armloop.json
//
// By default the loop runs dry (no commands reach the hardware); pass
// --control once the setup has been validated.
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/armloop: CLI with run, home and dashboard commands
//   - pkg/robot: arm link interface, feetech driver and simulator
//   - pkg/camera: camera sources (GStreamer, frame-loop replay)
//   - pkg/policy: policy oracle interface and HTTP inference client
//   - pkg/safety: clamp pipeline and drift watchdog
//   - pkg/fuser: action-chunk buffering and temporal ensembling
//   - pkg/telemetry: step history hub, SSE server, sqlite episode store
//   - pkg/control: the control loop itself
//   - pkg/config: run configuration
package armloop
