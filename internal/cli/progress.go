package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/gozhiyuan/omnimemory-sub000/internal/db"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the item statuses
type tickMsg time.Time

// itemsUpdateMsg carries the refreshed item rows
type itemsUpdateMsg struct {
	items []models.Item
	err   error
}

// statusCounts buckets the watched items by lifecycle status.
type statusCounts struct {
	pending    int
	processing int
	completed  int
	failed     int
	duplicates int
}

func (c statusCounts) terminal() int { return c.completed + c.failed }

// progressModel is the bubbletea model for item processing progress.
type progressModel struct {
	db       *db.Client
	itemIDs  []string
	counts   statusCounts
	failures []string
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

// newProgressModel creates a new progress model.
func newProgressModel(client *db.Client, itemIDs []string) progressModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		db:       client,
		itemIDs:  itemIDs,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		// Refresh item statuses
		return m, m.fetchItems()

	case itemsUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch item statuses: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.counts, m.failures = bucketItems(msg.items)

		// All items reached a terminal status
		if m.counts.terminal() >= len(m.itemIDs) {
			m.done = true
			return m, tea.Quit
		}

		// Continue polling while the daemon works
		return m, tickCmd()

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// bucketItems counts items per status and collects failure descriptions.
func bucketItems(items []models.Item) (statusCounts, []string) {
	var counts statusCounts
	var failures []string
	for i := range items {
		item := &items[i]
		switch item.Status {
		case models.ItemStatusPending:
			counts.pending++
		case models.ItemStatusProcessing:
			counts.processing++
		case models.ItemStatusCompleted:
			counts.completed++
			if item.IsDuplicate() {
				counts.duplicates++
			}
		case models.ItemStatusFailed:
			counts.failed++
			reason := "unknown error"
			if item.Error != nil {
				reason = *item.Error
			}
			failures = append(failures, fmt.Sprintf("%s: %s", models.MustRecordIDString(item.ID), reason))
		}
	}
	return counts, failures
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	total := len(m.itemIDs)
	pct := float64(m.counts.terminal()) / float64(total)

	// Status line with color
	status := m.theme.statusStyle().Render("[processing]")

	// Progress bar with counts
	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d items", m.counts.terminal(), total)
	if m.counts.failed > 0 {
		counts += m.theme.errorStyle().Render(fmt.Sprintf(" (%d failed)", m.counts.failed))
	}

	// Hint about background operation
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, counts, hint)
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		msg := "\nProcessing continues in background.\nUse 'omnictl items list' to check status.\n"
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Watch failed: %s\n", m.err))
	}

	var output string
	output += m.theme.completedStyle().Render("✓ Processing complete") + "\n\n"
	output += fmt.Sprintf("  Items completed:  %d\n", m.counts.completed)
	if m.counts.duplicates > 0 {
		output += fmt.Sprintf("  Duplicates found: %d\n", m.counts.duplicates)
	}
	if m.counts.failed > 0 {
		output += m.theme.errorStyle().Render(fmt.Sprintf("\nFailures (%d):\n", m.counts.failed))
		for _, f := range m.failures {
			output += fmt.Sprintf("  • %s\n", f)
		}
	}
	return output
}

// fetchItems reloads the watched items from the database.
// Runs in a separate goroutine (command) to avoid blocking Update().
func (m progressModel) fetchItems() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		items, err := m.db.ListItemsByIDs(ctx, m.itemIDs)
		return itemsUpdateMsg{items: items, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunItemProgress runs the interactive progress UI until every watched item
// reaches a terminal status. Returns nil on success or Ctrl+C (background).
func RunItemProgress(client *db.Client, itemIDs []string) error {
	model := newProgressModel(client, itemIDs)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	// Check final state
	if m, ok := finalModel.(progressModel); ok {
		// If user quit with Ctrl+C, processing continues in background - not an error
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
