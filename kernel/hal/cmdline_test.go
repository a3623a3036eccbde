package hal

import (
	"fmt"
	"reflect"
	"testing"
)

func TestParseCmdLine(t *testing.T) {
	specs := []struct {
		input string
		exp   CmdLine
	}{
		{"", CmdLine{}},
		{"timer=250", CmdLine{"timer": "250"}},
		{"  timer=100   onfault=kill quiet ", CmdLine{"timer": "100", "onfault": "kill", "quiet": "quiet"}},
		{"a=b=c procs=hello,counter", CmdLine{"procs": "hello,counter"}},
		{"mem=64 mem=16", CmdLine{"mem": "16"}},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			if got := ParseCmdLine(spec.input); !reflect.DeepEqual(got, spec.exp) {
				t.Fatalf("expected %v; got %v", spec.exp, got)
			}
		})
	}
}

func TestCmdLineValues(t *testing.T) {
	c := ParseCmdLine("timer=250 mem=lots onfault=kill procs=hello,,counter")

	if got := c.String("onfault", "respawn"); got != "kill" {
		t.Errorf("expected onfault to be kill; got %q", got)
	}
	if got := c.String("console", "fb"); got != "fb" {
		t.Errorf("expected default value; got %q", got)
	}

	if got, err := c.Uint("timer", 100); err != nil || got != 250 {
		t.Errorf("expected timer to be 250; got %d, %v", got, err)
	}
	if got, err := c.Uint("procs_max", 4); err != nil || got != 4 {
		t.Errorf("expected default value 4; got %d, %v", got, err)
	}
	if _, err := c.Uint("mem", 32); err != errBadCmdLineValue {
		t.Errorf("expected errBadCmdLineValue; got %v", err)
	}

	if got := c.List("procs"); !reflect.DeepEqual(got, []string{"hello", "counter"}) {
		t.Errorf("expected [hello counter]; got %v", got)
	}
	if got := c.List("missing"); len(got) != 0 {
		t.Errorf("expected an empty list; got %v", got)
	}
}
