package command

import (
	"strings"
	"testing"

	"flashforge-host/pkg/hosterr"
)

func collectResponses(out *[]string) func(string) {
	return func(msg string) { *out = append(*out, msg) }
}

func TestRegisterAndRun(t *testing.T) {
	reg := NewRegistry()

	var gotName string
	reg.Register("TARE_LOADCELL", func(req *Request) error {
		gotName = req.Name
		req.Respond("tare complete")
		return nil
	}, "Zero the load cell")

	var out []string
	if err := reg.Run("tare_loadcell", collectResponses(&out)); err != nil {
		t.Fatal(err)
	}
	if gotName != "TARE_LOADCELL" {
		t.Errorf("handler saw name %q", gotName)
	}
	if len(out) != 1 || out[0] != "tare complete" {
		t.Errorf("unexpected responses: %v", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	reg := NewRegistry()
	err := reg.Run("NO_SUCH_THING", nil)
	if !hosterr.Is(err, hosterr.ErrCommandUnknown) {
		t.Errorf("expected unknown command error, got %v", err)
	}
}

func TestParamParsing(t *testing.T) {
	reg := NewRegistry()

	reg.Register("SET_MAX_FORCE", func(req *Request) error {
		force, err := req.GetIntMin("FORCE", 900, 0)
		if err != nil {
			return err
		}
		action, err := req.GetChoice("ACTION", []string{"halt", "pause"}, "halt")
		if err != nil {
			return err
		}
		if force != 1200 || action != "pause" {
			t.Errorf("force=%d action=%q", force, action)
		}
		if !req.HasParam("RESET") {
			t.Error("RESET flag should be present")
		}
		return nil
	}, "")

	if err := reg.Run("SET_MAX_FORCE force=1200 action=pause RESET", nil); err != nil {
		t.Fatal(err)
	}
}

func TestParamValidation(t *testing.T) {
	reg := NewRegistry()
	reg.Register("CAL", func(req *Request) error {
		_, err := req.GetIntMin("WEIGHT", 500, 0)
		return err
	}, "")
	reg.Register("ACT", func(req *Request) error {
		_, err := req.GetChoice("ACTION", []string{"halt", "pause"}, "halt")
		return err
	}, "")
	reg.Register("REQ", func(req *Request) error {
		_, err := req.GetRequired("NAME")
		return err
	}, "")

	cases := []string{
		"CAL WEIGHT=-5",
		"CAL WEIGHT=abc",
		"ACT ACTION=explode",
		"REQ",
	}
	for _, line := range cases {
		if err := reg.Run(line, nil); !hosterr.Is(err, hosterr.ErrCommandParam) {
			t.Errorf("%q: expected param error, got %v", line, err)
		}
	}
}

func TestGetIntRange(t *testing.T) {
	req := &Request{Name: "T", params: map[string]string{"V": "150"}}
	if v, err := req.GetIntRange("V", 0, 100, 200); err != nil || v != 150 {
		t.Errorf("in-range value rejected: %d %v", v, err)
	}
	req.params["V"] = "250"
	if _, err := req.GetIntRange("V", 0, 100, 200); err == nil {
		t.Error("out-of-range value accepted")
	}
}

func TestHelpListsCommands(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ZED", func(*Request) error { return nil }, "last")
	reg.Register("ALPHA", func(*Request) error { return nil }, "first")

	var out []string
	if err := reg.Run("HELP", collectResponses(&out)); err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(out, "\n")
	if !strings.Contains(joined, "ALPHA") || !strings.Contains(joined, "ZED") {
		t.Errorf("help output missing commands:\n%s", joined)
	}
	if strings.Index(joined, "ALPHA") > strings.Index(joined, "ZED") {
		t.Error("help output not sorted")
	}
}
