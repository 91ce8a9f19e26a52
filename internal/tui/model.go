// Package tui is the terminal front end.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"flavorfind/internal/app"
	"flavorfind/internal/dashboard"
	"flavorfind/internal/data"
	"flavorfind/internal/logging"
)

type mode int

const (
	modeLanding mode = iota
	modeDashboard
	modeForm
	modeConfirm
)

type formKind int

const (
	formRestaurant formKind = iota
	formMenuItem
)

// row is one selectable line of the dashboard: a restaurant, or one of its
// items when itemID is set.
type row struct {
	restaurantID string
	itemID       string
}

type stateMsg struct{ st app.State }

type changedMsg struct{ dash *dashboard.Orchestrator }

type mutatedMsg struct{ err error }

var keys = struct {
	up, down, add, addItem, del, refresh, logout, quit key.Binding
	toggle, demo                                       key.Binding
}{
	up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	add:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add restaurant")),
	addItem: key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "add item")),
	del:     key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	logout:  key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "logout")),
	quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	toggle:  key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "login/signup")),
	demo:    key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "demo")),
}

// Model is the bubbletea model. Backend calls run as commands; the
// orchestrator's change signal drives re-rendering.
type Model struct {
	ctx context.Context
	gw  *app.Gateway
	log *logrus.Entry

	st   app.State
	dash *dashboard.Orchestrator
	snap dashboard.State

	mode   mode
	signup bool
	auth   []textinput.Model // name, email, password
	focus  int

	form    formKind
	formFor string
	fields  []textinput.Model

	cursor  int
	pending row
	prompt  string
	alert   string
}

func New(ctx context.Context, gw *app.Gateway, log *logrus.Entry) Model {
	m := Model{ctx: ctx, gw: gw, log: logging.OrDiscard(log)}
	m.auth = []textinput.Model{
		newInput("Name", false),
		newInput("Email", false),
		newInput("Password", true),
	}
	m.focus = 1
	m.auth[m.focus].Focus()
	return m
}

func newInput(placeholder string, secret bool) textinput.Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = placeholder
	ti.CharLimit = 200
	if secret {
		ti.EchoMode = textinput.EchoPassword
		ti.EchoCharacter = '•'
	}
	return ti
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, func() tea.Msg { return stateMsg{m.gw.Start(m.ctx)} })
}

// Close stops the orchestrator's background loads.
func (m Model) Close() {
	if m.dash != nil {
		m.dash.Close()
	}
}

func waitChanges(d *dashboard.Orchestrator) tea.Cmd {
	return func() tea.Msg {
		<-d.Changes()
		return changedMsg{d}
	}
}

func refresh(ctx context.Context, d *dashboard.Orchestrator) tea.Cmd {
	return func() tea.Msg {
		return mutatedMsg{d.RefreshRestaurants(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		return m.applyState(msg.st)
	case changedMsg:
		if msg.dash != m.dash || m.dash == nil {
			return m, nil
		}
		m.snap = m.dash.Snapshot()
		m.clampCursor()
		return m, waitChanges(m.dash)
	case mutatedMsg:
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.mode {
		case modeLanding:
			return m.updateLanding(msg)
		case modeDashboard:
			return m.updateDashboard(msg)
		case modeForm:
			return m.updateForm(msg)
		case modeConfirm:
			return m.updateConfirm(msg)
		}
	}
	return m, nil
}

// applyState moves between landing and dashboard as st requires.
func (m Model) applyState(st app.State) (tea.Model, tea.Cmd) {
	alert, st := st.TakeAlert()
	m.st = st
	m.alert = alert
	if !st.SignedIn() {
		if m.dash != nil {
			m.dash.Close()
			m.dash = nil
		}
		m.snap = dashboard.State{}
		m.mode = modeLanding
		return m, nil
	}
	if m.dash == nil {
		m.dash = dashboard.New(data.NewClient(m.gw.Backend(), st.Token), *st.User, m.log)
		m.cursor = 0
	}
	m.mode = modeDashboard
	return m, tea.Batch(refresh(m.ctx, m.dash), waitChanges(m.dash))
}

func (m Model) updateLanding(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.alert = ""
	switch {
	case key.Matches(msg, keys.toggle):
		m.signup = !m.signup
		if !m.signup && m.focus == 0 {
			m.setAuthFocus(1)
		}
		return m, nil
	case key.Matches(msg, keys.demo):
		st := m.st
		return m, func() tea.Msg {
			return stateMsg{m.gw.Login(m.ctx, st, app.DemoEmail, app.DemoPassword)}
		}
	}
	switch msg.String() {
	case "tab", "down":
		m.setAuthFocus(m.nextAuth(1))
		return m, nil
	case "shift+tab", "up":
		m.setAuthFocus(m.nextAuth(-1))
		return m, nil
	case "enter":
		if m.focus != len(m.auth)-1 {
			m.setAuthFocus(m.nextAuth(1))
			return m, nil
		}
		return m, m.submitAuth()
	case "esc":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.auth[m.focus], cmd = m.auth[m.focus].Update(msg)
	return m, cmd
}

func (m Model) nextAuth(step int) int {
	first := 1
	if m.signup {
		first = 0
	}
	n := len(m.auth) - first
	return first + ((m.focus-first+step)%n+n)%n
}

func (m *Model) setAuthFocus(i int) {
	m.auth[m.focus].Blur()
	m.focus = i
	m.auth[m.focus].Focus()
}

func (m Model) submitAuth() tea.Cmd {
	st := m.st
	name := strings.TrimSpace(m.auth[0].Value())
	email := strings.TrimSpace(m.auth[1].Value())
	password := m.auth[2].Value()
	if m.signup {
		return func() tea.Msg { return stateMsg{m.gw.Signup(m.ctx, st, name, email, password)} }
	}
	return func() tea.Msg { return stateMsg{m.gw.Login(m.ctx, st, email, password)} }
}

func rows(s dashboard.State) []row {
	var out []row
	for _, r := range s.Restaurants {
		out = append(out, row{restaurantID: r.ID})
		for _, it := range s.Menu(r.ID).Items {
			out = append(out, row{restaurantID: r.ID, itemID: it.ID})
		}
	}
	return out
}

func (m *Model) clampCursor() {
	n := len(rows(m.snap))
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) selected() (row, bool) {
	rs := rows(m.snap)
	if m.cursor < 0 || m.cursor >= len(rs) {
		return row{}, false
	}
	return rs[m.cursor], true
}

func (m Model) updateDashboard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.alert = ""
	switch {
	case key.Matches(msg, keys.quit):
		return m, tea.Quit
	case key.Matches(msg, keys.up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.down):
		if m.cursor < len(rows(m.snap))-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.refresh):
		return m, refresh(m.ctx, m.dash)
	case key.Matches(msg, keys.add):
		m.openForm(formRestaurant, "")
		return m, textinput.Blink
	case key.Matches(msg, keys.addItem):
		if sel, ok := m.selected(); ok {
			m.openForm(formMenuItem, sel.restaurantID)
			return m, textinput.Blink
		}
	case key.Matches(msg, keys.del):
		if sel, ok := m.selected(); ok {
			m.pending = sel
			m.prompt = dashboard.PromptDeleteRestaurant
			if sel.itemID != "" {
				m.prompt = dashboard.PromptDeleteMenuItem
			}
			m.mode = modeConfirm
		}
	case key.Matches(msg, keys.logout):
		st, dash := m.st, m.dash
		ctx, gw := m.ctx, m.gw
		if dash != nil {
			dash.Close()
		}
		m.dash = nil
		return m, func() tea.Msg { return stateMsg{gw.Logout(ctx, st)} }
	}
	return m, nil
}

func (m *Model) openForm(kind formKind, restaurantID string) {
	m.form = kind
	m.formFor = restaurantID
	if kind == formRestaurant {
		m.fields = []textinput.Model{newInput("Restaurant name", false)}
	} else {
		m.fields = []textinput.Model{
			newInput("Item name", false),
			newInput("Description", false),
			newInput("Price", false),
		}
	}
	m.focus = 0
	m.fields[0].Focus()
	m.mode = modeForm
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeDashboard
		m.fields = nil
		return m, nil
	case "tab", "enter":
		if m.focus < len(m.fields)-1 {
			m.fields[m.focus].Blur()
			m.focus++
			m.fields[m.focus].Focus()
			return m, nil
		}
		if msg.String() == "tab" {
			return m, nil
		}
		cmd := m.submitForm()
		m.mode = modeDashboard
		m.fields = nil
		return m, cmd
	case "shift+tab":
		if m.focus > 0 {
			m.fields[m.focus].Blur()
			m.focus--
			m.fields[m.focus].Focus()
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.fields[m.focus], cmd = m.fields[m.focus].Update(msg)
	return m, cmd
}

func (m Model) submitForm() tea.Cmd {
	ctx, dash := m.ctx, m.dash
	if m.form == formRestaurant {
		name := m.fields[0].Value()
		return func() tea.Msg {
			_, err := dash.CreateRestaurant(ctx, name)
			return mutatedMsg{err}
		}
	}
	id := m.formFor
	in := dashboard.MenuItemInput{
		Name:        m.fields[0].Value(),
		Description: m.fields[1].Value(),
		PriceText:   m.fields[2].Value(),
	}
	return func() tea.Msg {
		_, err := dash.CreateMenuItem(ctx, id, in)
		return mutatedMsg{err}
	}
}

func (m Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	yes := false
	switch msg.String() {
	case "y", "Y":
		yes = true
	case "n", "N", "esc":
	default:
		return m, nil
	}
	m.mode = modeDashboard
	if !yes {
		return m, nil
	}
	ctx, dash, target := m.ctx, m.dash, m.pending
	confirm := func(string) bool { return true }
	if target.itemID != "" {
		return m, func() tea.Msg {
			_, err := dash.DeleteMenuItem(ctx, target.itemID, target.restaurantID, confirm)
			return mutatedMsg{err}
		}
	}
	return m, func() tea.Msg {
		_, err := dash.DeleteRestaurant(ctx, target.restaurantID, confirm)
		return mutatedMsg{err}
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("FlavorFind"))
	b.WriteString("  ")
	if m.st.BackendConnected {
		b.WriteString(okStyle.Render("Backend Connected"))
	} else {
		b.WriteString(errorStyle.Render("Connection Failed"))
	}
	if m.st.User != nil {
		b.WriteString(mutedStyle.Render("  " + m.st.User.Name))
	}
	b.WriteString("\n\n")
	if m.alert != "" {
		b.WriteString(alertStyle.Render(m.alert))
		b.WriteString("\n\n")
	}

	switch m.mode {
	case modeLanding:
		b.WriteString(m.viewLanding())
	case modeDashboard:
		b.WriteString(m.viewDashboard())
	case modeForm:
		b.WriteString(m.viewForm())
	case modeConfirm:
		b.WriteString(panelStyle.Render(m.prompt + "\n\n" + helpStyle.Render("y yes • n no")))
	}
	return b.String()
}

func (m Model) viewLanding() string {
	var lines []string
	if m.signup {
		lines = append(lines, titleStyle.Render("Sign up"), m.auth[0].View())
	} else {
		lines = append(lines, titleStyle.Render("Log in"))
	}
	lines = append(lines, m.auth[1].View(), m.auth[2].View(), "",
		mutedStyle.Render(fmt.Sprintf("Demo account: %s / %s", app.DemoEmail, app.DemoPassword)))
	help := helpStyle.Render("tab next • enter submit • ctrl+t login/signup • ctrl+d demo • esc quit")
	return panelStyle.Render(strings.Join(lines, "\n")) + "\n" + help
}

func (m Model) viewDashboard() string {
	var lines []string
	i := 0
	line := func(s string) {
		if i == m.cursor {
			s = selectedStyle.Render(s)
		}
		lines = append(lines, s)
		i++
	}
	for _, r := range m.snap.Restaurants {
		line(r.Name)
		slot := m.snap.Menu(r.ID)
		for _, it := range slot.Items {
			line(fmt.Sprintf("    %s  $%.2f", it.Name, it.Price))
		}
		switch {
		case slot.Status == dashboard.StatusFailed:
			lines = append(lines, mutedStyle.Render("    Could not load the menu."))
		case slot.Status != dashboard.StatusLoaded && len(slot.Items) == 0:
			lines = append(lines, mutedStyle.Render("    Loading menu…"))
		case len(slot.Items) == 0:
			lines = append(lines, mutedStyle.Render("    No menu items yet."))
		}
	}
	if len(m.snap.Restaurants) == 0 {
		if m.snap.Loading {
			lines = append(lines, mutedStyle.Render("Loading…"))
		} else {
			lines = append(lines, mutedStyle.Render("No restaurants yet. Press a to add one."))
		}
	}
	help := helpStyle.Render("↑/↓ move • a add restaurant • i add item • d delete • r refresh • l logout • q quit")
	return panelStyle.Render(titleStyle.Render("Your restaurants")+"\n"+strings.Join(lines, "\n")) + "\n" + help
}

func (m Model) viewForm() string {
	title := "New restaurant"
	if m.form == formMenuItem {
		title = "New menu item"
	}
	lines := []string{titleStyle.Render(title)}
	for _, f := range m.fields {
		lines = append(lines, f.View())
	}
	return panelStyle.Render(strings.Join(lines, "\n")) + "\n" + helpStyle.Render("tab next • enter save • esc cancel")
}
