// Package services implements the driving port interfaces.
// Services contain the core orchestration logic and call driven ports
// (adapters) for inference, alignment and cache persistence.
//
// Services are pure Go with no CGO.
package services
