// Package testutil provides test doubles and fixtures shared by the tier2
// packages.
//
// FakeOS implements mmap.OS over a fake address space: addresses are
// deterministic and aligned but never backed by memory, so allocator tests
// must not dereference them.
//
//	fos := testutil.NewFakeOS()
//	fos.SetNumaNodes(2, 1)
//	a, _ := arena.New(cfg, arena.WithOS(fos))
//
// TraceBuilder assembles uop traces for optimizer tests:
//
//	tr := testutil.NewTraceBuilder().
//		Op(uop.LoadFast, 0).
//		Op(uop.LoadFast, 1).
//		Op(uop.GuardBothInt, 0).
//		Build()
package testutil
