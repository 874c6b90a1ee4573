package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mohammad-safakhou/wayfarer/models"
	"github.com/mohammad-safakhou/wayfarer/session/session_models"
	"github.com/mohammad-safakhou/wayfarer/utils"
)

const overviewPreview = 150

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	alertStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// Console is the operator's terminal: plan display, the approval prompt and
// the itinerary preview.
type Console struct {
	in  *bufio.Reader
	out io.Writer
}

func New(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out}
}

// Strategy shows the plan waiting for approval.
func (c *Console) Strategy(sessionID string, s models.SearchStrategy) {
	var b strings.Builder
	b.WriteString(alertStyle.Render(">>> APPROVAL REQUIRED <<<"))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("session " + sessionID))
	b.WriteString("\n\n")
	b.WriteString(titleStyle.Render("Reasoning"))
	b.WriteString("\n" + s.Reasoning + "\n\n")
	b.WriteString(titleStyle.Render("Queries"))
	for i, q := range s.Queries {
		fmt.Fprintf(&b, "\n %d. %s", i+1, q)
	}
	fmt.Fprintln(c.out, boxStyle.Render(b.String()))
}

// Approve asks for a decision; only "y" (any case) approves.
func (c *Console) Approve() (bool, error) {
	fmt.Fprint(c.out, "Approve Execution? (y/n): ")
	line, err := c.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "y"), nil
}

// Itinerary prints a short preview of the finished trip.
func (c *Console) Itinerary(it models.TripItinerary) {
	header := titleStyle.Render("TRIP DESTINATION: " + strings.ToUpper(it.Destination))
	body := "Overview: " + utils.Truncate(it.Overview, overviewPreview)
	if it.DurationDays > 0 {
		body += mutedStyle.Render(fmt.Sprintf("\n%d days, %d planned", it.DurationDays, len(it.Days)))
	}
	fmt.Fprintln(c.out, boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, body)))
}

// Saved reports where the full itinerary was written.
func (c *Console) Saved(path string) {
	fmt.Fprintln(c.out, "SUCCESS! Itinerary saved to: "+path)
}

// Checkpoints lists sessions one per line.
func (c *Console) Checkpoints(cps []session_models.Checkpoint) {
	if len(cps) == 0 {
		fmt.Fprintln(c.out, mutedStyle.Render("no sessions"))
		return
	}
	for _, cp := range cps {
		fmt.Fprintf(c.out, "%s  %-17s  %s  %s\n",
			cp.SessionID, cp.Stage, cp.UpdatedAt.Format("2006-01-02 15:04:05"), utils.Truncate(cp.State.UserRequest, 60))
	}
}

// Checkpoint prints one session in detail.
func (c *Console) Checkpoint(cp session_models.Checkpoint) {
	fmt.Fprintf(c.out, "%s %s\n", titleStyle.Render("session"), cp.SessionID)
	fmt.Fprintf(c.out, "stage:    %s (revision %d)\n", cp.Stage, cp.Revision)
	fmt.Fprintf(c.out, "request:  %s\n", cp.State.UserRequest)
	if cp.DecidedBy != "" {
		fmt.Fprintf(c.out, "decided:  %s\n", cp.DecidedBy)
	}
	if cp.Error != "" {
		fmt.Fprintf(c.out, "error:    %s\n", alertStyle.Render(cp.Error))
	}
	if s := cp.State.SearchStrategy; s != nil {
		fmt.Fprintf(c.out, "queries:  %s\n", strings.Join(s.Queries, " | "))
	}
	if it := cp.State.FinalItinerary; it != nil {
		c.Itinerary(*it)
	}
}
