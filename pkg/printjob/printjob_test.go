package printjob

import (
	"testing"

	"flashforge-host/pkg/command"
)

func TestJobLifecycle(t *testing.T) {
	c := New()

	if c.IsJobActive(1.0) {
		t.Error("standby controller should not report an active job")
	}

	if err := c.StartJob("benchy.gcode", 2.0); err != nil {
		t.Fatal(err)
	}
	if !c.IsJobActive(3.0) {
		t.Error("printing job should be active")
	}

	c.FinishJob()
	if c.State() != StateStandby {
		t.Errorf("state after finish = %v", c.State())
	}
}

func TestPauseResume(t *testing.T) {
	c := New()
	c.StartJob("job", 0)

	var paused, resumed int
	c.OnPause(func() { paused++ })
	c.OnResume(func() { resumed++ })

	if err := c.RequestPause(); err != nil {
		t.Fatal(err)
	}
	if !c.IsPaused() || c.IsJobActive(1.0) {
		t.Error("paused job should be paused and inactive")
	}

	// Pausing again is a no-op, not an error.
	if err := c.RequestPause(); err != nil {
		t.Errorf("repeated pause: %v", err)
	}
	if paused != 1 {
		t.Errorf("pause callbacks = %d, expected 1", paused)
	}

	if err := c.Resume(); err != nil {
		t.Fatal(err)
	}
	if !c.IsJobActive(2.0) || resumed != 1 {
		t.Errorf("resume failed: active=%v resumed=%d", c.IsJobActive(2.0), resumed)
	}
}

func TestPauseErrors(t *testing.T) {
	c := New()

	if err := c.RequestPause(); err != ErrNoJob {
		t.Errorf("pause with no job: %v", err)
	}
	if err := c.Resume(); err != ErrNotPaused {
		t.Errorf("resume with no pause: %v", err)
	}

	c.StartJob("job", 0)
	c.RequestPause()
	if err := c.StartJob("other", 1.0); err != ErrPaused {
		t.Errorf("start over paused job: %v", err)
	}
}

func TestClearPause(t *testing.T) {
	c := New()
	c.StartJob("job", 0)
	c.RequestPause()

	c.ClearPause()
	if c.State() != StateStandby || c.IsPaused() {
		t.Errorf("state after clear = %v", c.State())
	}

	// Clearing with nothing paused does nothing.
	c.StartJob("job2", 1.0)
	c.ClearPause()
	if c.State() != StatePrinting {
		t.Errorf("clear while printing changed state to %v", c.State())
	}
}

func TestOperatorCommands(t *testing.T) {
	c := New()
	reg := command.NewRegistry()
	c.RegisterCommands(reg)

	c.StartJob("job", 0)

	var out []string
	respond := func(msg string) { out = append(out, msg) }

	if err := reg.Run("PAUSE", respond); err != nil {
		t.Fatal(err)
	}
	if !c.IsPaused() {
		t.Error("PAUSE command did not pause")
	}
	if err := reg.Run("RESUME", respond); err != nil {
		t.Fatal(err)
	}
	if c.IsPaused() {
		t.Error("RESUME command did not resume")
	}

	reg.Run("PAUSE", respond)
	if err := reg.Run("CLEAR_PAUSE", respond); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateStandby {
		t.Error("CLEAR_PAUSE did not return to standby")
	}
}

func TestGetStatus(t *testing.T) {
	c := New()
	c.StartJob("benchy.gcode", 5.0)
	c.RequestPause()

	st := c.GetStatus()
	if st.State != "paused" || st.JobName != "benchy.gcode" || st.PauseCount != 1 || !st.IsPaused {
		t.Errorf("unexpected status: %+v", st)
	}
}
