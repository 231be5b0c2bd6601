package viz

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/kinsim/internal/sim"
)

const historyLen = 48

type ProgressMsg sim.Progress

type DoneMsg struct {
	Result *sim.Result
	Err    error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// ProgressModel shows the latest output of a run, sparklines of the total
// particle count and the point density, and the final status.
type ProgressModel struct {
	title     string
	start     time.Time
	latest    sim.Progress
	seen      bool
	particles []float64
	point     []float64
	frame     int

	done      bool
	cancelled bool
	result    *sim.Result
	err       error
}

func NewProgress(title string) *ProgressModel {
	return &ProgressModel{title: title, start: time.Now()}
}

func (m *ProgressModel) Init() tea.Cmd { return tick() }

func (m *ProgressModel) Cancelled() bool { return m.cancelled }

func push(h []float64, v float64) []float64 {
	h = append(h, v)
	if len(h) > historyLen {
		h = h[len(h)-historyLen:]
	}
	return h
}

func (m *ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ProgressMsg:
		m.latest, m.seen = sim.Progress(msg), true
		m.particles = push(m.particles, msg.Summary.TotalParticles)
		if len(msg.Summary.Ion) > 0 {
			m.point = push(m.point, msg.Summary.Ion[0].PointDensity)
		}
	case DoneMsg:
		m.done, m.result, m.err = true, msg.Result, msg.Err
		return m, tea.Quit
	case tickMsg:
		m.frame++
		if !m.done {
			return m, tick()
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *ProgressModel) status() string {
	switch {
	case m.done && m.err != nil:
		return StatusFailed.Render("failed")
	case m.done && m.result != nil && m.result.Stopped:
		return StatusStopped.Render("stopped")
	case m.done:
		return StatusRunning.Render("completed")
	case m.cancelled:
		return StatusStopped.Render("cancelling")
	}
	return StatusRunning.Render(Spinner(m.frame) + " running")
}

func row(label, value string) string {
	return MetricLabel.Render(label) + MetricValue.Render(value)
}

func (m *ProgressModel) View() string {
	var b strings.Builder
	b.WriteString(Title.Render(m.title) + "  " + m.status() + "\n\n")

	fraction := 0.0
	if m.seen && m.latest.Outputs > 0 {
		fraction = float64(m.latest.Output) / float64(m.latest.Outputs)
	}
	b.WriteString(ProgressBar(fraction, 40) + fmt.Sprintf(" %3.0f%%\n\n", 100*fraction))

	b.WriteString(row("time", fmt.Sprintf("%.4g / %.4g", m.latest.Time, m.latest.FinalTime)) + "\n")
	b.WriteString(row("output", fmt.Sprintf("%d / %d", m.latest.Output, m.latest.Outputs)) + "\n")
	b.WriteString(row("total particles", fmt.Sprintf("%.8g", m.latest.Summary.TotalParticles)) + "\n")
	b.WriteString(row("peak density", fmt.Sprintf("%.6g", m.latest.Summary.PeakDensity)) + "\n")
	b.WriteString(row("elapsed", time.Since(m.start).Round(time.Millisecond).String()) + "\n\n")

	b.WriteString(MetricLabel.Render("particles") + SparkMid.Render(Sparkline(m.particles, historyLen)) + "\n")
	b.WriteString(MetricLabel.Render("ion point") + SparkHigh.Render(Sparkline(m.point, historyLen)) + "\n")

	if m.done && m.result != nil {
		b.WriteString("\n" + Separator(60) + "\n")
		b.WriteString(row("solver steps", fmt.Sprint(m.result.Stats.Steps)) + "\n")
		b.WriteString(row("rhs evaluations", fmt.Sprint(m.result.Stats.RhsEvals)) + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + StatusFailed.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + KeyHint.Render("q: cancel and quit"))
	return Panel.Render(b.String()) + "\n"
}

// Observer forwards driver progress to a running program.
type Observer struct {
	p *tea.Program
}

func (o Observer) OnOutput(p sim.Progress) { o.p.Send(ProgressMsg(p)) }

// Run shows a progress view while run executes. Quitting the view cancels
// the context passed to run; Run still waits for run to return.
func Run(ctx context.Context, title string, run func(ctx context.Context, obs sim.Observer) (*sim.Result, error)) (*sim.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewProgress(title)
	p := tea.NewProgram(model)

	type outcome struct {
		res *sim.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := run(ctx, Observer{p: p})
		done <- outcome{res, err}
		p.Send(DoneMsg{Result: res, Err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("progress view: %w", err)
	}
	cancel()
	out := <-done
	return out.res, out.err
}
