package vmm

import (
	"bytes"
	"testing"

	"github.com/gitrustux/rustica/kernel"
	"github.com/gitrustux/rustica/kernel/gate"
	"github.com/gitrustux/rustica/kernel/kfmt"
	"github.com/gitrustux/rustica/kernel/mem"
	"github.com/gitrustux/rustica/kernel/mem/pmm"
)

// fakeSink is an io.Writer that captures whatever kfmt.Printf/Fprintf writes
// to it, standing in for the real console during tests.
type fakeSink struct {
	buf bytes.Buffer
}

func (f *fakeSink) Write(p []byte) (int, error) {
	return f.buf.Write(p)
}

func withFakeSink(t *testing.T) *fakeSink {
	t.Helper()

	sink := &fakeSink{}
	kfmt.SetOutputSink(sink)
	t.Cleanup(func() { kfmt.SetOutputSink(nil) })
	return sink
}

// haltSentinel is what the mocked panicFn panics with, standing in for the
// real kernel.Panic (which halts the CPU and never returns).
const haltSentinel = "halted"

func expectHalt(t *testing.T) {
	t.Helper()

	r := recover()
	if r != haltSentinel {
		t.Fatalf("expected the fault handler to call panicFn; got %v", r)
	}
}

func TestPageFaultHandler(t *testing.T) {
	defer func(origReadCR2 func() uint64, origPanic func(interface{})) {
		readCR2Fn = origReadCR2
		panicFn = origPanic
	}(readCR2Fn, panicFn)

	sink := withFakeSink(t)
	panicFn = func(interface{}) { panic(haltSentinel) }
	readCR2Fn = func() uint64 { return 0xdeadbeef }

	specs := []struct {
		info   uint64
		reason string
	}{
		{0, "read from non-present page"},
		{1, "page protection violation (read)"},
		{2, "write to non-present page"},
		{3, "page protection violation (write)"},
		{4, "page-fault in user-mode"},
		{8, "page table has reserved bit set"},
		{16, "instruction fetch"},
		{123, "unknown (code 123)"},
	}

	for _, spec := range specs {
		sink.buf.Reset()

		func() {
			defer expectHalt(t)
			pageFaultHandler(&gate.Registers{Info: spec.info})
		}()

		if got := sink.buf.String(); !bytes.Contains([]byte(got), []byte(spec.reason)) {
			t.Errorf("[info %d] expected dump to mention %q; got %q", spec.info, spec.reason, got)
		}
	}
}

func TestGeneralProtectionFaultHandler(t *testing.T) {
	defer func(origReadCR2 func() uint64, origPanic func(interface{})) {
		readCR2Fn = origReadCR2
		panicFn = origPanic
	}(readCR2Fn, panicFn)

	sink := withFakeSink(t)
	panicFn = func(interface{}) { panic(haltSentinel) }
	readCR2Fn = func() uint64 { return 0x1234 }

	defer expectHalt(t)
	generalProtectionFaultHandler(&gate.Registers{})

	if !bytes.Contains(sink.buf.Bytes(), []byte("general protection fault")) {
		t.Fatalf("expected dump to mention the fault; got %q", sink.buf.String())
	}
}

func TestInit(t *testing.T) {
	defer func(origFrameAllocator FrameAllocatorFn, origActivePDT func() uintptr, origSwitchPDT func(uintptr), origMapFn func(Page, pmm.Frame, PageTableEntryFlag) *kernel.Error, origHandleInterrupt func(gate.InterruptNumber, uint8, func(*gate.Registers)), origVerifyCanary func(PageDirectoryTable) *kernel.Error) {
		frameAllocator = origFrameAllocator
		activePDTFn = origActivePDT
		switchPDTFn = origSwitchPDT
		mapFn = origMapFn
		handleInterruptFn = origHandleInterrupt
		verifyCanaryFn = origVerifyCanary
	}(frameAllocator, activePDTFn, switchPDTFn, mapFn, handleInterruptFn, verifyCanaryFn)

	// Activate's canary check reads real memory through canaryAddr (here,
	// the fake kernelStart below), which this hosted test can't back;
	// bypass it the same way switchPDTFn/mapFn's hardware effects are
	// bypassed.
	verifyCanaryFn = func(_ PageDirectoryTable) *kernel.Error { return nil }

	const pdtFrame = pmm.Frame(42)

	frameAllocator = func(zone pmm.Zone) (pmm.Frame, *kernel.Error) {
		if zone != pmm.ZoneKernel {
			t.Errorf("expected the kernel PDT frame to be allocated from the kernel zone; got %v", zone)
		}
		return pdtFrame, nil
	}

	// Reporting the PDT frame as already active short-circuits
	// PageDirectoryTable.Init's bootstrap path, so neither mapTemporaryFn
	// nor unmapFn need mocking for this test.
	activePDTFn = func() uintptr { return pdtFrame.Address() }

	switchPDTActivated := false
	switchPDTFn = func(addr uintptr) {
		switchPDTActivated = true
		if addr != pdtFrame.Address() {
			t.Errorf("expected Activate to switch to the kernel PDT frame; got %x", addr)
		}
	}

	mapCallCount := 0
	mapFn = func(_ Page, _ pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
		mapCallCount++
		if want := FlagPresent | FlagRW; flags&want != want {
			t.Errorf("expected kernel image pages to be mapped present+RW; got %v", flags)
		}
		return nil
	}

	registered := map[gate.InterruptNumber]bool{}
	handleInterruptFn = func(intNumber gate.InterruptNumber, istOffset uint8, handler func(*gate.Registers)) {
		registered[intNumber] = true
	}

	kernelStart := uintptr(0x100000)
	kernelEnd := kernelStart + uintptr(3*mem.PageSize)

	if err := Init(kernelStart, kernelEnd); err != nil {
		t.Fatal(err)
	}

	if exp := 4; mapCallCount != exp {
		t.Errorf("expected the kernel image range to be mapped across %d pages; got %d calls", exp, mapCallCount)
	}
	if !switchPDTActivated {
		t.Error("expected Init to activate the freshly built kernel PDT")
	}
	if !registered[gate.PageFaultException] {
		t.Error("expected Init to register a handler for gate.PageFaultException")
	}
	if !registered[gate.GPFException] {
		t.Error("expected Init to register a handler for gate.GPFException")
	}
}

func TestInitFrameAllocatorError(t *testing.T) {
	defer func(origFrameAllocator FrameAllocatorFn) { frameAllocator = origFrameAllocator }(frameAllocator)

	expErr := &kernel.Error{Module: "test", Message: "out of memory"}
	frameAllocator = func(_ pmm.Zone) (pmm.Frame, *kernel.Error) { return 0, expErr }

	if err := Init(0x100000, 0x101000); err != expErr {
		t.Fatalf("expected to get error: %v; got %v", expErr, err)
	}
}
