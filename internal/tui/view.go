package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loomlang/loom/internal/coordinator"
	"github.com/loomlang/loom/internal/unit"
)

// View runs the progress model in a background bubbletea program and
// bridges coordinator observer callbacks into it.
type View struct {
	program *tea.Program
	done    chan struct{}
	once    sync.Once
}

// Start launches the progress view for the given units.
func Start(units []unit.Unit) *View {
	v := &View{
		program: tea.NewProgram(NewModel(units)),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(v.done)
		// A render error leaves the run unaffected; progress display is
		// best effort.
		_, _ = v.program.Run()
	}()
	return v
}

// Observer returns a coordinator.Observer feeding this view.
func (v *View) Observer() coordinator.Observer {
	return func(unitID string, status unit.Status, round int) {
		v.program.Send(ProgressMsg{UnitID: unitID, Status: status, Round: round})
	}
}

// Finish stops the view and waits for the program to exit. Safe to call
// multiple times.
func (v *View) Finish() {
	v.once.Do(func() {
		v.program.Send(FinishedMsg{})
		<-v.done
	})
}
