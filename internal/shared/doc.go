// Package shared holds helpers used by more than one package of the license API.
//
// The testutil subpackage provides a buffered slog handler for asserting on log
// output and domain fixtures (licenses, devices) with deterministic clocks:
//
//	func TestSomething(t *testing.T) {
//	    logger, logs := testutil.NewTestLogger(t)
//	    lic := testutil.ActiveLicense("TEST-KEY-0001", 2)
//	    ...
//	    testutil.AssertLogContains(t, logs, slog.LevelWarn, "device limit")
//	}
//
// Nothing here may contain business logic or import an internal domain package
// other than pkg/contracts.
package shared
