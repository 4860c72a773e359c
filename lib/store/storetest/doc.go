// Package storetest provides the reusable compliance suite of store.IStore.
//
// Every engine is expected to pass it when used through the store facade:
//
//	func TestCompliance(t *testing.T) {
//	  storetest.RunComplianceTests(t, "Maple", factory, storetest.Fixtures())
//	}
package storetest
