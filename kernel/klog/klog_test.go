package klog

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestConfigure(t *testing.T) {
	defer func() {
		log = newLogger(os.Stderr)
	}()

	var buf bytes.Buffer
	log = newLogger(&buf)

	if err := Configure("not-a-level", nil); err == nil {
		t.Fatal("expected an error for an unknown level")
	}

	Env(1, 0x1001).Debug("trap")
	if buf.Len() != 0 {
		t.Fatalf("expected debug output to be filtered at the default level; got %q", buf.String())
	}

	if err := Configure("debug", nil); err != nil {
		t.Fatal(err)
	}

	Env(1, 0x1001).WithField("trapno", 14).Debug("trap")
	got := buf.String()
	for _, exp := range []string{"level=debug", "msg=trap", "cpu=1", "env=00001001", "trapno=14"} {
		if !strings.Contains(got, exp) {
			t.Errorf("expected output to contain %q; got %q", exp, got)
		}
	}

	var other bytes.Buffer
	if err := Configure("info", &other); err != nil {
		t.Fatal(err)
	}
	CPU(0).Info("halted")
	if !strings.Contains(other.String(), "cpu=0") {
		t.Fatalf("expected output to be redirected; got %q", other.String())
	}
}

func TestRateLimited(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf)
	l.SetLevel(logrus.DebugLevel)

	rl := NewRateLimited(l, time.Hour)
	for i := 0; i < 10; i++ {
		rl.Debugf("spurious interrupt %d", i)
	}
	rl.Infof("timer")
	rl.Warnf("timer")

	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Fatalf("expected exactly one line to pass the limiter; got %d:\n%s", got, buf.String())
	}

	if !strings.Contains(buf.String(), "spurious interrupt 0") {
		t.Fatalf("expected the first line to be logged; got %q", buf.String())
	}
}
