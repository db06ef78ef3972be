package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/treykane/proxypal/internal/appconfig"
	"github.com/treykane/proxypal/internal/connection"
	"github.com/treykane/proxypal/internal/history"
	"github.com/treykane/proxypal/internal/model"
	"github.com/treykane/proxypal/internal/security"
	"github.com/treykane/proxypal/internal/store"
	"github.com/treykane/proxypal/internal/util"
)

// Controller is the slice of the connection manager the dashboard drives.
type Controller interface {
	Connect(cfg model.ServerConfig, onResult connection.Callback) string
	Disconnect()
	Status() model.ConnectionStatus
}

// ProxyToggler switches the system SOCKS proxy.
type ProxyToggler interface {
	Supported() bool
	Enable(ctx context.Context, port uint16) error
	Disable(ctx context.Context) error
}

type tickMsg time.Time
type connectingMsg string
type resultMsg model.Result
type disconnectedMsg struct{}
type proxyMsg struct {
	on  bool
	err error
}
type quitMsg struct{}

type dashboardModel struct {
	servers       []model.ServerConfig
	filtered      []model.ServerConfig
	sel           int
	filter        string
	filterMode    bool
	recentFirst   bool
	showHelp      bool
	confirmDelete bool
	status        string
	conn          model.ConnectionStatus
	connecting    string
	proxyOn       bool
	form          *addServerForm
	width         int
	height        int
	cfg           appconfig.Config
	ctl           Controller
	proxy         ProxyToggler
	results       chan model.Result
}

func newDashboard(cfg appconfig.Config, ctl Controller, proxy ProxyToggler) dashboardModel {
	m := dashboardModel{
		cfg:     cfg,
		ctl:     ctl,
		proxy:   proxy,
		results: make(chan model.Result, 4),
	}
	m.reloadServers()
	m.status = "Ready. Select a server and press Enter to connect, or a to add an access key."
	if len(m.servers) == 0 {
		m.status = "No saved servers. Press a to add an ss:// access key."
	}
	return m
}

func (m *dashboardModel) reloadServers() {
	servers, err := store.Load()
	if err != nil {
		m.status = "failed to load servers: " + m.userMessage(err)
		return
	}
	m.servers = servers
	m.applyFilter()
	m.conn = m.ctl.Status()
}

func (m *dashboardModel) applyFilter() {
	source := m.servers
	if m.recentFirst {
		lastUsed, err := history.LastUsed()
		if err == nil {
			source = history.SortServersRecent(m.servers, lastUsed)
		}
	}
	if strings.TrimSpace(m.filter) == "" {
		m.filtered = append([]model.ServerConfig(nil), source...)
	} else {
		f := strings.ToLower(strings.TrimSpace(m.filter))
		m.filtered = nil
		for _, s := range source {
			if strings.Contains(strings.ToLower(s.DisplayName()), f) || strings.Contains(strings.ToLower(s.Endpoint()), f) {
				m.filtered = append(m.filtered, s)
			}
		}
	}
	if m.sel >= len(m.filtered) {
		m.sel = len(m.filtered) - 1
	}
	if m.sel < 0 {
		m.sel = 0
	}
}

func (m dashboardModel) selected() (model.ServerConfig, bool) {
	if len(m.filtered) == 0 {
		return model.ServerConfig{}, false
	}
	return m.filtered[m.sel], true
}

func (m dashboardModel) userMessage(err error) string {
	return security.UserMessage(err, m.cfg.Security.RedactErrors)
}

func tickCmd(seconds int) tea.Cmd {
	return tea.Tick(time.Duration(clampRefresh(seconds))*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// waitForResult delivers the next connect outcome to the program.
func waitForResult(ch <-chan model.Result) tea.Cmd {
	return func() tea.Msg {
		return resultMsg(<-ch)
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(m.cfg.UI.RefreshSeconds), waitForResult(m.results))
}

func (m dashboardModel) connectCmd(cfg model.ServerConfig) tea.Cmd {
	ctl, results := m.ctl, m.results
	return func() tea.Msg {
		ctl.Connect(cfg, func(res model.Result) { results <- res })
		return connectingMsg(cfg.DisplayName())
	}
}

func (m dashboardModel) disconnectCmd() tea.Cmd {
	ctl := m.ctl
	return func() tea.Msg {
		ctl.Disconnect()
		return disconnectedMsg{}
	}
}

func (m dashboardModel) proxyCmd(on bool, port uint16) tea.Cmd {
	proxy := m.proxy
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if on {
			return proxyMsg{on: true, err: proxy.Enable(ctx, port)}
		}
		return proxyMsg{on: false, err: proxy.Disable(ctx)}
	}
}

func (m dashboardModel) quitCmd() tea.Cmd {
	ctl, proxy, proxyOn := m.ctl, m.proxy, m.proxyOn
	return func() tea.Msg {
		if proxyOn && proxy != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = proxy.Disable(ctx)
			cancel()
		}
		ctl.Disconnect()
		return quitMsg{}
	}
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.conn = m.ctl.Status()
		return m, tickCmd(m.cfg.UI.RefreshSeconds)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case connectingMsg:
		// The outcome may already have arrived.
		if m.connecting != "" {
			m.status = fmt.Sprintf("Checking tunnel to %s...", string(msg))
		}
		return m, nil
	case resultMsg:
		return m.handleResult(model.Result(msg))
	case disconnectedMsg:
		m.conn = m.ctl.Status()
		m.connecting = ""
		m.status = "Disconnected."
		if m.proxyOn {
			return m, m.proxyCmd(false, 0)
		}
		return m, nil
	case proxyMsg:
		if msg.err != nil {
			m.status = "System proxy change failed: " + m.userMessage(msg.err)
			return m, nil
		}
		m.proxyOn = msg.on
		if msg.on {
			m.status = "System proxy enabled."
		} else {
			m.status = "System proxy disabled."
		}
		return m, nil
	case quitMsg:
		return m, tea.Quit
	case tea.KeyMsg:
		if m.form != nil {
			return m.updateForm(msg)
		}
		if m.filterMode {
			return m.updateFilter(msg), nil
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m dashboardModel) handleResult(res model.Result) (tea.Model, tea.Cmd) {
	next := waitForResult(m.results)
	m.conn = m.ctl.Status()
	m.connecting = ""
	// Outcomes of superseded attempts are not news to the user.
	if res.Kind == model.FailureStopped {
		return m, next
	}
	name := "server"
	for _, s := range m.servers {
		if s.ID == res.ServerID {
			name = s.DisplayName()
		}
	}
	if !res.Success {
		m.status = m.userMessage(res.Err)
		return m, next
	}
	m.status = fmt.Sprintf("Connected to %s. SOCKS5 proxy on %s:%d.", name, util.LoopbackHost, res.Port)
	if m.cfg.SystemProxy.AutoEnable && m.proxy != nil && m.proxy.Supported() {
		return m, tea.Batch(next, m.proxyCmd(true, res.Port))
	}
	return m, next
}

func (m dashboardModel) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "esc" {
		m.form = nil
		m.status = "Add server cancelled."
		return m, nil
	}
	res, cmd := m.form.update(msg)
	if res == nil {
		return m, cmd
	}
	var err error
	if res.replace {
		err = store.Replace(res.server)
	} else {
		err = store.Add(res.server)
	}
	if err != nil {
		m.form.errMsg = m.userMessage(err)
		return m, nil
	}
	m.form = nil
	m.reloadServers()
	for i, s := range m.filtered {
		if s.ID == res.server.ID {
			m.sel = i
		}
	}
	m.status = "Saved " + res.server.DisplayName() + "."
	if res.connect {
		m.connecting = res.server.ID
		return m, m.connectCmd(res.server)
	}
	return m, nil
}

func (m dashboardModel) updateFilter(msg tea.KeyMsg) dashboardModel {
	switch msg.String() {
	case "enter", "esc":
		m.filterMode = false
	case "backspace":
		if len(m.filter) > 0 {
			m.filter = m.filter[:len(m.filter)-1]
		}
	default:
		if len(msg.String()) == 1 {
			m.filter += msg.String()
		}
	}
	m.applyFilter()
	return m
}

func (m dashboardModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key != "x" {
		m.confirmDelete = false
	}
	switch key {
	case "q", "ctrl+c":
		m.status = "Disconnecting..."
		return m, m.quitCmd()
	case "j", "down":
		if m.sel < len(m.filtered)-1 {
			m.sel++
		}
	case "k", "up":
		if m.sel > 0 {
			m.sel--
		}
	case "/":
		m.filterMode = true
		m.status = "Filter mode: type and press Enter"
	case "?":
		m.showHelp = !m.showHelp
	case "s":
		m.recentFirst = !m.recentFirst
		m.applyFilter()
		if m.recentFirst {
			m.status = "Sorted by most recently connected."
		} else {
			m.status = "Sorted by saved order."
		}
	case "r":
		m.reloadServers()
		m.status = "Refreshed servers and connection status."
	case "a":
		m.form = newForm()
		return m, m.form.fields[fieldKey].Cursor.BlinkCmd()
	case "enter":
		s, ok := m.selected()
		if !ok {
			break
		}
		if m.conn.Session != nil && m.conn.Session.ServerID == s.ID {
			m.status = "Disconnecting..."
			return m, m.disconnectCmd()
		}
		m.connecting = s.ID
		m.status = fmt.Sprintf("Connecting to %s...", s.DisplayName())
		return m, m.connectCmd(s)
	case "d":
		m.status = "Disconnecting..."
		return m, m.disconnectCmd()
	case "p":
		if m.proxy == nil || !m.proxy.Supported() {
			m.status = "System proxy toggle is not supported on this platform."
			break
		}
		if m.proxyOn {
			return m, m.proxyCmd(false, 0)
		}
		if !m.conn.Connected {
			m.status = "Connect first; the system proxy needs a running tunnel."
			break
		}
		return m, m.proxyCmd(true, m.conn.Session.Port)
	case "x":
		s, ok := m.selected()
		if !ok {
			break
		}
		if !m.confirmDelete {
			m.confirmDelete = true
			m.status = fmt.Sprintf("Press x again to delete %s.", s.DisplayName())
			break
		}
		m.confirmDelete = false
		if err := store.Delete(s.ID); err != nil {
			m.status = "Delete failed: " + m.userMessage(err)
			break
		}
		_ = history.Forget(s.Ref())
		m.reloadServers()
		m.status = "Deleted " + s.DisplayName() + "."
	}
	return m, nil
}

func (m dashboardModel) View() string {
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render("ProxyPal")
	subhead := fmt.Sprintf("servers=%d shown=%d refresh=%ds", len(m.servers), len(m.filtered), clampRefresh(m.cfg.UI.RefreshSeconds))
	left := strings.Builder{}
	left.WriteString("j/k to navigate; [*] means connected.\n")
	for i, s := range m.filtered {
		cursor := " "
		if i == m.sel {
			cursor = ">"
		}
		mark := " "
		switch {
		case m.conn.Session != nil && m.conn.Session.ServerID == s.ID:
			mark = "*"
		case m.connecting == s.ID:
			mark = "~"
		}
		left.WriteString(fmt.Sprintf("%s[%s] %-26s %-22s\n", cursor, mark, util.Truncate(s.DisplayName(), 26), util.Truncate(s.Endpoint(), 22)))
	}
	if len(m.filtered) == 0 {
		left.WriteString("  (no servers)\n")
	}

	detail := strings.Builder{}
	if s, ok := m.selected(); ok {
		detail.WriteString(fmt.Sprintf("Name: %s\nServer: %s\nPort: %d\nCipher: %s\nRef: %s\n", s.DisplayName(), s.Server, s.ServerPort, s.Method, s.Ref()))
		detail.WriteString("\nNext steps:\n")
		detail.WriteString(m.guidanceForServer(s))
	} else {
		detail.WriteString("Add a server with a to get started.\n")
	}

	conn := strings.Builder{}
	conn.WriteString(fmt.Sprintf("%-24s %-16s %-8s %-8s %-8s %-6s\n", "SERVER", "STATE", "PORT", "PID", "UPTIME", "PROXY"))
	if si := m.conn.Session; si != nil {
		conn.WriteString(fmt.Sprintf("%-24s %-16s %-8d %-8d %-8s %-6s\n", util.Truncate(si.ServerName, 24), si.State, si.Port, si.PID, formatUptime(si.UptimeSec), onOff(m.proxyOn)))
		if si.LastError != "" {
			conn.WriteString("last error: " + util.Truncate(si.LastError, 80) + "\n")
		}
	} else {
		conn.WriteString("(disconnected)\n")
	}

	filterLine := fmt.Sprintf("Filter: %s", m.filter)
	if m.filterMode {
		filterLine += " (typing...)"
	}

	quickHelp := "Keys: Enter connect/disconnect | a add | x delete | p system proxy | d disconnect | / filter | s sort | ? help | q quit"
	width := m.effectiveWidth()
	var main string
	if m.form != nil {
		main = m.form.view(m.renderPanel, width)
	} else {
		main = m.renderMainPanels(left.String(), detail.String())
	}
	connPanel := m.renderPanel("Connection", conn.String(), width, lipgloss.Color("63"))
	status := m.renderPanel("Status", m.status, width, lipgloss.Color("205"))
	help := ""
	if m.showHelp {
		help = m.renderPanel("Help", m.helpBlock(), width, lipgloss.Color("244"))
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		head,
		subhead,
		filterLine,
		quickHelp,
		main,
		connPanel,
		help,
		status,
	)
}

// Run starts the dashboard. Quitting disconnects ctl.
func Run(cfg appconfig.Config, ctl Controller, proxy ProxyToggler) error {
	p := tea.NewProgram(newDashboard(cfg, ctl, proxy), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func clampRefresh(seconds int) int {
	if seconds <= 0 {
		return util.DefaultRefreshSeconds
	}
	return seconds
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func formatUptime(sec int64) string {
	return (time.Duration(sec) * time.Second).String()
}

func (m dashboardModel) guidanceForServer(s model.ServerConfig) string {
	var lines []string
	switch {
	case m.conn.Session != nil && m.conn.Session.ServerID == s.ID && m.conn.Connected:
		lines = append(lines, "  - Press Enter to disconnect.")
		lines = append(lines, fmt.Sprintf("  - Point applications at socks5://%s:%d.", util.LoopbackHost, m.conn.Session.Port))
		if !m.proxyOn {
			lines = append(lines, "  - Press p to route the system proxy through the tunnel.")
		}
	case m.connecting == s.ID:
		lines = append(lines, "  - Connecting; the tunnel is verified before it is reported up.")
	default:
		lines = append(lines, "  - Press Enter to connect. Any current tunnel is closed first.")
	}
	lines = append(lines, "  - Press x twice to delete this server.")
	return strings.Join(lines, "\n") + "\n"
}

func (m dashboardModel) renderMainPanels(serversPanel, detailsPanel string) string {
	width := m.effectiveWidth()
	if width < 96 {
		return lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderPanel("Servers", serversPanel, width, lipgloss.Color("39")),
			m.renderPanel("Details", detailsPanel, width, lipgloss.Color("69")),
		)
	}
	leftWidth := width / 2
	rightWidth := width - leftWidth
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderPanel("Servers", serversPanel, leftWidth, lipgloss.Color("39")),
		m.renderPanel("Details", detailsPanel, rightWidth, lipgloss.Color("69")),
	)
}

func (m dashboardModel) helpBlock() string {
	return strings.Join([]string{
		"  Navigation: j/k or arrow keys move selection.",
		"  Filtering: press /, type name or host text, then Enter. s toggles recent-first order.",
		"  Connect: Enter on a server starts a tunnel, or stops it if that server is connected.",
		"  Add: a opens the access key form. Delete: press x twice.",
		"  System proxy: p toggles the OS SOCKS proxy to the tunnel port.",
		"  Quit: press q (or Ctrl+C); the tunnel is stopped and the system proxy turned off.",
	}, "\n")
}

func (m dashboardModel) effectiveWidth() int {
	if m.width <= 0 {
		return 100
	}
	return m.width
}

func (m dashboardModel) renderPanel(title, body string, width int, accent lipgloss.Color) string {
	if width < 24 {
		width = 24
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title)
	content := strings.TrimSuffix(body, "\n")
	panel := strings.TrimSpace(header + "\n" + content)
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1).
		Render(panel)
}
