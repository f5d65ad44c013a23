package runner

import (
	"fmt"
	"strings"
	"testing"
)

func TestTailBufferKeepsLastLines(t *testing.T) {
	tail := &tailBuffer{}
	for i := 0; i < 100; i++ {
		fmt.Fprintf(tail, "line %d\n", i)
	}
	lines := tail.Lines()
	if len(lines) != tailLines {
		t.Fatalf("got %d lines, want %d", len(lines), tailLines)
	}
	if lines[0] != "line 90" || lines[len(lines)-1] != "line 99" {
		t.Errorf("tail window = [%s .. %s], want [line 90 .. line 99]", lines[0], lines[len(lines)-1])
	}
}

func TestTailBufferIncludesUnterminatedLine(t *testing.T) {
	tail := &tailBuffer{}
	fmt.Fprintf(tail, "finished line\nstill going")
	lines := tail.Lines()
	if len(lines) != 2 || lines[1] != "still going" {
		t.Errorf("lines = %v, want the unterminated line last", lines)
	}
}

func TestTailBufferFlagsScrolledDiskFull(t *testing.T) {
	tail := &tailBuffer{}
	fmt.Fprintf(tail, "write failed: %s\n", diskFullSignal)
	for i := 0; i < 5*tailLines; i++ {
		fmt.Fprintf(tail, "later line %d\n", i)
	}
	if !tail.DiskFull() {
		t.Error("disk-full signal lost after scrolling out of the tail window")
	}
	for _, line := range tail.Lines() {
		if strings.Contains(line, diskFullSignal) {
			t.Fatal("signal line still in the tail window, scroll-out not exercised")
		}
	}
}

func TestTailBufferFlagsDiskFullInPartialLine(t *testing.T) {
	tail := &tailBuffer{}
	fmt.Fprintf(tail, "write failed: %s", diskFullSignal)
	if !tail.DiskFull() {
		t.Error("disk-full signal in an unterminated line not detected")
	}
}

func TestTailBufferBoundsMemory(t *testing.T) {
	tail := &tailBuffer{}
	chunk := strings.Repeat("x", 1024)
	for i := 0; i < 1000; i++ {
		tail.Write([]byte(chunk))
	}
	if len(tail.partial) > tailLineMax {
		t.Errorf("partial line buffer grew to %d bytes, cap is %d", len(tail.partial), tailLineMax)
	}
	if n := len(tail.lines); n > tailLines {
		t.Errorf("line buffer holds %d entries, cap is %d", n, tailLines)
	}
}
