package console

import (
	"bytes"
	"testing"
)

func TestPrintfWritesToConfiguredOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	Printf("hello %d", 1)
	if buf.String() != "hello 1" {
		t.Fatalf("Printf wrote %q", buf.String())
	}
}

func TestTracefGatedByDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	Debug = false
	Tracef("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("Tracef wrote output while Debug=false: %q", buf.String())
	}

	Debug = true
	defer func() { Debug = false }()
	Tracef("should appear")
	if buf.String() != "should appear" {
		t.Fatalf("Tracef wrote %q", buf.String())
	}
}

func TestExitLineFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	ExitLine("echo", 0)
	if buf.String() != "echo: exit(0)\n" {
		t.Fatalf("ExitLine wrote %q", buf.String())
	}
}
