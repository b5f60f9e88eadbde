package cli

import (
	"fmt"
	"strings"

	"hakushi/internal/domain"
	"hakushi/internal/session"

	"github.com/charmbracelet/lipgloss"
)

var (
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	attachStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Underline(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	bannerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	statusColors = map[session.Status]lipgloss.Color{
		session.Disconnected: lipgloss.Color("9"),
		session.Connecting:   lipgloss.Color("11"),
		session.Connected:    lipgloss.Color("10"),
	}
)

// Renderer formats session output for the terminal.
type Renderer struct {
	resolve func(domain.Attachment) string
}

// NewRenderer creates a Renderer. resolve turns attachment paths into
// absolute URLs; nil prints them as received.
func NewRenderer(resolve func(domain.Attachment) string) *Renderer {
	if resolve == nil {
		resolve = func(a domain.Attachment) string { return a.URL }
	}
	return &Renderer{resolve: resolve}
}

// Message renders one chat line plus a line per attachment.
func (r *Renderer) Message(msg domain.ChatMessage) string {
	var sb strings.Builder
	sb.WriteString(timeStyle.Render(msg.Time().Format("15:04")))
	sb.WriteByte(' ')
	sb.WriteString(lipgloss.NewStyle().Bold(true).Foreground(authorColor(msg.Author)).Render(msg.Author))
	sb.WriteString(": ")
	sb.WriteString(msg.Content)
	for _, att := range msg.Attachments {
		sb.WriteString("\n    ")
		sb.WriteString(attachStyle.Render(att.Filename))
		sb.WriteString(" ")
		sb.WriteString(timeStyle.Render(r.resolve(att)))
	}
	return sb.String()
}

// Status renders the connection indicator with room, user and last error.
func (r *Renderer) Status(st session.State) string {
	dot := lipgloss.NewStyle().Foreground(statusColors[st.Status]).Render("●")
	line := fmt.Sprintf("%s %s  room=%s  user=%s", dot, st.Status, st.Room, st.UserName)
	if st.LastError != nil {
		line += "\n  " + r.Error(st.LastError)
	}
	return line
}

// Error renders an error line.
func (r *Renderer) Error(err error) string {
	return errorStyle.Render("error: " + err.Error())
}

// Notice renders an informational line.
func (r *Renderer) Notice(format string, args ...any) string {
	return noticeStyle.Render(fmt.Sprintf(format, args...))
}

// Banner renders the REPL header.
func (r *Renderer) Banner(room, user string) string {
	return bannerStyle.Render("hakushi") + " " +
		r.Notice("room %s as %s. Type /help for commands, /quit to exit.", room, user)
}

// authorColor returns a deterministic color from the 256-color palette,
// skipping the theme-dependent first 16 entries and the grayscale ramp.
func authorColor(name string) lipgloss.Color {
	hash := uint32(0)
	for _, c := range name {
		hash = hash*31 + uint32(c)
	}
	return lipgloss.Color(fmt.Sprintf("%d", 17+hash%215))
}
