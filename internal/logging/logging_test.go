package logging

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"testing"
)

func TestInit_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "webterm.log")
	Init(path)
	defer Close()

	log.Printf("[test] hello from logging test")

	tail, err := ReadTail(10)
	if err != nil {
		t.Fatalf("read tail: %v", err)
	}
	if !strings.Contains(tail, "[test] hello from logging test") {
		t.Errorf("expected log line in tail, got %q", tail)
	}
}

func TestReadTail_LimitsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webterm.log")
	Init(path)
	defer Close()

	for i := 0; i < 20; i++ {
		log.Printf("line-%02d", i)
	}

	tail, err := ReadTail(3)
	if err != nil {
		t.Fatalf("read tail: %v", err)
	}
	lines := strings.Split(tail, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), tail)
	}
	if !strings.HasSuffix(lines[2], fmt.Sprintf("line-%02d", 19)) {
		t.Errorf("expected last line to be line-19, got %q", lines[2])
	}
}

func TestReadTail_NoFile(t *testing.T) {
	Close()
	tail, err := ReadTail(5)
	if err != nil {
		t.Fatalf("read tail: %v", err)
	}
	if tail != "" {
		t.Errorf("expected empty tail without log file, got %q", tail)
	}
}
