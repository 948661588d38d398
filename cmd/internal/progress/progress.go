// Package progress shows a verification run as it happens.
package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/commonjava/folofix/pkg/bus"
	"github.com/commonjava/folofix/pkg/bus/events"
	"github.com/commonjava/folofix/pkg/pipeline"
)

// recentLimit is how many finished reports the view lists.
const recentLimit = 5

type Canceled struct{}

func (c Canceled) Error() string {
	return "verification canceled"
}

// RunFunc starts the run the view follows.
type RunFunc func(ctx context.Context) (*pipeline.RunReport, error)

var (
	passedColor  = lipgloss.Color("#7CABCF")
	failedColor  = lipgloss.Color("#E88B8D")
	fetchedColor = lipgloss.Color("#0176CE")
	pendingColor = lipgloss.Color("#FFE299")
)

type model struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	run     RunFunc
	spinner spinner.Model

	stage events.StageName

	loaded     int
	missing    int
	loadFailed int
	targets    int

	fetched      int
	skipped      int
	fetchFailed  int
	fetchedBytes int64

	passed int
	failed int
	recent []events.ReportVerified

	canceling bool
	report    *pipeline.RunReport
	err       error
}

type doneMsg struct {
	report *pipeline.RunReport
	err    error
}

func newModel(ctx context.Context, run RunFunc) model {
	ctx, cancel := context.WithCancelCause(ctx)
	return model{
		ctx:     ctx,
		cancel:  cancel,
		run:     run,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, execute(m.ctx, m.run))
}

func execute(ctx context.Context, run RunFunc) tea.Cmd {
	return func() tea.Msg {
		report, err := run(ctx)
		return doneMsg{report: report, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// the run winds down and reports back through doneMsg
			m.canceling = true
			m.cancel(Canceled{})
		}
		return m, nil

	case doneMsg:
		m.report = msg.report
		m.err = msg.err
		m.cancel(nil)
		return m, tea.Quit

	case events.Stage:
		if msg.Status == events.Running {
			m.stage = msg.Name
		}
		return m, nil

	case events.ReportLoaded:
		switch {
		case msg.Error != nil:
			m.loadFailed++
		case msg.Missing:
			m.missing++
		default:
			m.loaded++
			m.targets += msg.Targets
		}
		return m, nil

	case events.ContentFetched:
		switch msg.Outcome {
		case events.Fetched:
			m.fetched++
			m.fetchedBytes += msg.Bytes
		case events.Skipped:
			m.skipped++
		case events.Failed:
			m.fetchFailed++
		}
		return m, nil

	case events.ReportVerified:
		if msg.Error == nil && msg.Failed == 0 {
			m.passed++
		} else {
			m.failed++
		}
		m.recent = append(m.recent, msg)
		if len(m.recent) > recentLimit {
			m.recent = m.recent[len(m.recent)-recentLimit:]
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func renderListItem(style lipgloss.Style, text string, detail string) string {
	return "• " + style.Render(text) + " " + style.Faint(true).Render(detail) + "\n"
}

func stageTitle(stage events.StageName) string {
	switch stage {
	case events.StageLoad:
		return "Loading tracking reports"
	case events.StageFetch:
		return "Fetching content"
	case events.StageVerify:
		return "Verifying reports"
	default:
		return "Starting"
	}
}

func (m model) View() string {
	var output strings.Builder
	style := lipgloss.NewStyle()

	title := stageTitle(m.stage)
	if m.canceling {
		title = "Canceling"
	}
	output.WriteString(m.spinner.View() + " " + style.Bold(true).Render(title) + "\n\n")

	fmt.Fprintf(&output, "Reports:  %d loaded, %d missing, %d failed to load\n", m.loaded, m.missing, m.loadFailed)
	fmt.Fprintf(&output, "Content:  %d fetched (%s), %d cached, %d failed\n",
		m.fetched, humanize.IBytes(uint64(m.fetchedBytes)), m.skipped, m.fetchFailed)
	output.WriteString(renderBars([]bar{
		{color: fetchedColor, value: m.fetched + m.skipped},
		{color: failedColor, value: m.fetchFailed},
		{color: pendingColor, value: max(m.targets-m.fetched-m.skipped-m.fetchFailed, 0)},
	}, 60))
	output.WriteString("\n\n")

	fmt.Fprintf(&output, "Verified: %d passed, %d failed\n", m.passed, m.failed)
	output.WriteString(renderBars([]bar{
		{color: passedColor, value: m.passed},
		{color: failedColor, value: m.failed},
		{color: pendingColor, value: max(m.loaded-m.passed-m.failed, 0)},
	}, 60))
	output.WriteString("\n\n")

	for _, r := range m.recent {
		switch {
		case r.Error != nil:
			output.WriteString(renderListItem(style.Foreground(failedColor), r.TrackingID, r.Error.Error()))
		case r.Failed > 0:
			output.WriteString(renderListItem(style.Foreground(failedColor), r.TrackingID,
				fmt.Sprintf("%d of %d entries failed", r.Failed, r.Checked)))
		default:
			output.WriteString(renderListItem(style.Foreground(passedColor), r.TrackingID,
				fmt.Sprintf("%d entries", r.Checked)))
		}
	}

	output.WriteString("\nPress q to quit.\n")
	return output.String()
}

type bar struct {
	color lipgloss.Color
	value int
}

var partials = []rune{'▏', '▎', '▍', '▌', '▋', '▊', '▉'}

func partialBlock(n int) string {
	if n < 1 || n > len(partials) {
		panic(fmt.Sprintf("invalid partial block: %d", n))
	}
	return string(partials[n-1])
}

func renderBars(bars []bar, width int) string {
	var b strings.Builder

	var total int
	for _, bar := range bars {
		total += bar.value
	}

	var remainder int
	var previousColor lipgloss.Color
	for _, bar := range bars {
		var eighthBlocks = 0
		if bar.value != 0 {
			eighthBlocks = int(math.Round(float64(bar.value*width*8) / float64(total)))
		}

		var pb string
		if remainder > 0 {
			pb = partialBlock(remainder)
			eighthBlocks -= (8 - remainder)
		}

		fullBlocks := max(eighthBlocks/8, 0)

		b.WriteString(
			lipgloss.NewStyle().
				Foreground(previousColor).
				Background(bar.color).
				Render(pb + strings.Repeat(" ", fullBlocks)),
		)

		remainder = max(eighthBlocks%8, 0)
		previousColor = bar.color
	}

	return b.String()
}

// Run follows the run started by run, drawing its progress from the events
// published on sub under runID. Quitting the view cancels the run with
// [Canceled]. A run that was cut short still returns whatever partial report
// it produced alongside the error.
func Run(ctx context.Context, sub bus.Subscriber, runID uuid.UUID, run RunFunc) (*pipeline.RunReport, error) {
	teaOpts := []tea.ProgramOption{
		// interrupts cancel ctx, and the run reports back before the view exits
		tea.WithoutSignalHandler(),
	}
	// if no tty present, don't expect one (e.g. when output is piped)
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		teaOpts = append(teaOpts,
			tea.WithoutRenderer(),
			tea.WithInput(io.NopCloser(strings.NewReader(""))),
			tea.WithOutput(io.Discard),
		)
	}
	p := tea.NewProgram(newModel(ctx, run), teaOpts...)

	send := func(msg tea.Msg) { p.Send(msg) }
	detach, err := bus.Attach(sub,
		bus.Handler{Topic: events.TopicStage(runID), Fn: func(evt events.Stage) { send(evt) }},
		bus.Handler{Topic: events.TopicReport(runID), Fn: func(evt events.ReportLoaded) { send(evt) }},
		bus.Handler{Topic: events.TopicFetch(runID), Fn: func(evt events.ContentFetched) { send(evt) }},
		bus.Handler{Topic: events.TopicVerify(runID), Fn: func(evt events.ReportVerified) { send(evt) }},
	)
	if err != nil {
		return nil, err
	}
	defer detach()

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("running progress view: %w", err)
	}
	fm := final.(model)
	if fm.err != nil {
		if errors.Is(fm.err, Canceled{}) {
			return fm.report, Canceled{}
		}
		return fm.report, fm.err
	}
	return fm.report, nil
}
