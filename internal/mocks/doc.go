// Package mocks provides shared mock implementations for testing.
//
// This package contains mock implementations of the controller's external
// collaborators (process bridge, backend) that can be used by any package's tests.
//
// # Usage
//
//	import "botpilot/internal/mocks"
//
//	func TestSomething(t *testing.T) {
//	    br := mocks.NewMockBridge()
//	    br.FailLaunchWith("Chrome not found")
//	    // Use br as a bridge.Bridge in test...
//	}
//
// # Available Mocks
//
//   - MockBridge: Mock for pkg/bridge.Bridge with controllable launch, stop and liveness
//   - MockBackend: Mock for the profile check, config materialization and token issuance
package mocks
