// Package web is the server-rendered browser front end.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"flavorfind/internal/app"
	"flavorfind/internal/dashboard"
	"flavorfind/internal/data"
	"flavorfind/internal/logging"
)

const CookieName = "ff_session"

//go:embed templates/*.html
var templatesFS embed.FS

type Options struct {
	Gateway  *app.Gateway
	Sessions *Registry
	Throttle *app.Throttle
	// BackendURL is where the Admin Panel link points.
	BackendURL string
	// FanoutWait bounds how long a dashboard render waits for menu loads.
	FanoutWait time.Duration
	Log        *logrus.Entry
}

type Handler struct {
	gw         *app.Gateway
	sessions   *Registry
	throttle   *app.Throttle
	adminURL   string
	fanoutWait time.Duration
	tmpl       *template.Template
	log        *logrus.Entry
}

func New(opts Options) (*Handler, error) {
	if opts.Gateway == nil || opts.Sessions == nil {
		return nil, errors.New("web: gateway and session registry are required")
	}
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"price": func(p float64) string { return fmt.Sprintf("$%.2f", p) },
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("web: parse templates: %w", err)
	}
	return &Handler{
		gw:         opts.Gateway,
		sessions:   opts.Sessions,
		throttle:   opts.Throttle,
		adminURL:   strings.TrimRight(opts.BackendURL, "/") + "/admin",
		fanoutWait: opts.FanoutWait,
		tmpl:       tmpl,
		log:        logging.OrDiscard(opts.Log),
	}, nil
}

// Mount registers the browser routes on r.
func (h *Handler) Mount(r *gin.Engine) {
	r.SetHTMLTemplate(h.tmpl)

	r.GET("/", h.index)
	r.POST("/login", h.login)
	r.POST("/signup", h.signup)
	r.POST("/demo", h.demo)
	r.POST("/logout", h.logout)

	r.POST("/restaurants", h.createRestaurant)
	r.GET("/restaurants/:id/delete", h.confirmDeleteRestaurant)
	r.POST("/restaurants/:id/delete", h.deleteRestaurant)
	r.POST("/restaurants/:id/items", h.createMenuItem)
	r.GET("/restaurants/:id/items/:item/delete", h.confirmDeleteMenuItem)
	r.POST("/restaurants/:id/items/:item/delete", h.deleteMenuItem)
}

// Run sweeps idle sessions and login limiters every interval until ctx ends.
func (h *Handler) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.Sweep(ctx)
		}
	}
}

// Sweep ends expired sessions, logging them out of the backend.
func (h *Handler) Sweep(ctx context.Context) int {
	expired := h.sessions.Sweep()
	for _, s := range expired {
		s.mu.Lock()
		h.endLocked(ctx, s)
		s.mu.Unlock()
	}
	if n := h.throttle.Sweep(time.Hour); n > 0 {
		h.log.WithField("count", n).Debug("login limiters dropped")
	}
	if len(expired) > 0 {
		h.log.WithField("count", len(expired)).Info("expired sessions swept")
	}
	return len(expired)
}

func (h *Handler) endLocked(ctx context.Context, s *Session) {
	if s.dash != nil {
		s.dash.Close()
		s.dash = nil
	}
	s.state = h.gw.Logout(ctx, s.state)
}

// session returns the caller's session, starting a new one with a
// connection check when the cookie is missing or stale.
func (h *Handler) session(c *gin.Context) *Session {
	if id, err := c.Cookie(CookieName); err == nil {
		if s, ok := h.sessions.Get(id); ok {
			return s
		}
	}
	s := h.sessions.Create(h.gw.Start(c.Request.Context()))
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, s.ID, 0, "/", "", c.Request.TLS != nil, true)
	return s
}

// setStateLocked stores st and keeps the orchestrator in step with it.
func (h *Handler) setStateLocked(s *Session, st app.State) {
	s.state = st
	if !st.SignedIn() {
		if s.dash != nil {
			s.dash.Close()
			s.dash = nil
		}
		return
	}
	if s.dash == nil || s.dash.User().ID != st.User.ID {
		if s.dash != nil {
			s.dash.Close()
		}
		client := data.NewClient(h.gw.Backend(), st.Token)
		s.dash = dashboard.New(client, *st.User, h.log.WithField("session", s.ID))
	}
}

func (h *Handler) redirectHome(c *gin.Context) {
	c.Redirect(http.StatusSeeOther, "/")
}

type card struct {
	Restaurant data.Restaurant
	Items      []data.MenuItem
	Loaded     bool
	Failed     bool
}

type page struct {
	Connected    bool
	AdminURL     string
	Alert        string
	User         *data.User
	Signup       bool
	DemoEmail    string
	DemoPassword string
	Cards        []card
	// confirmation page
	Prompt string
	Action string
}

func (h *Handler) page(st app.State) page {
	return page{
		Connected:    st.BackendConnected,
		AdminURL:     h.adminURL,
		User:         st.User,
		DemoEmail:    app.DemoEmail,
		DemoPassword: app.DemoPassword,
	}
}

func (h *Handler) index(c *gin.Context) {
	s := h.session(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, st := s.state.TakeAlert()
	s.state = st
	p := h.page(st)
	p.Alert = alert

	if !st.SignedIn() || s.dash == nil {
		if !st.BackendConnected {
			s.state.BackendConnected = h.gw.Start(c.Request.Context()).BackendConnected
			p.Connected = s.state.BackendConnected
		}
		p.Signup = c.Query("mode") == "signup"
		c.HTML(http.StatusOK, "landing.html", p)
		return
	}

	ctx := c.Request.Context()
	if err := s.dash.RefreshRestaurants(ctx); err != nil {
		h.log.WithError(err).Debug("dashboard rendered with previous list")
	}
	if h.fanoutWait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, h.fanoutWait)
		_ = s.dash.Wait(waitCtx)
		cancel()
	}
	p.Cards = cards(s.dash.Snapshot())
	c.HTML(http.StatusOK, "dashboard.html", p)
}

func cards(snap dashboard.State) []card {
	out := make([]card, 0, len(snap.Restaurants))
	for _, r := range snap.Restaurants {
		slot := snap.Menu(r.ID)
		out = append(out, card{
			Restaurant: r,
			Items:      slot.Items,
			Loaded:     slot.Status == dashboard.StatusLoaded || (slot.Status == dashboard.StatusLoading && slot.Items != nil),
			Failed:     slot.Status == dashboard.StatusFailed,
		})
	}
	return out
}

func clientCtx(c *gin.Context) context.Context {
	return app.WithClient(c.Request.Context(), c.ClientIP())
}

func (h *Handler) login(c *gin.Context) {
	s := h.session(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	st := h.gw.Login(clientCtx(c), s.state, strings.TrimSpace(c.PostForm("email")), c.PostForm("password"))
	h.setStateLocked(s, st)
	h.redirectHome(c)
}

func (h *Handler) demo(c *gin.Context) {
	s := h.session(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	h.setStateLocked(s, h.gw.Login(clientCtx(c), s.state, app.DemoEmail, app.DemoPassword))
	h.redirectHome(c)
}

func (h *Handler) signup(c *gin.Context) {
	s := h.session(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	st := h.gw.Signup(clientCtx(c), s.state,
		strings.TrimSpace(c.PostForm("name")), strings.TrimSpace(c.PostForm("email")), c.PostForm("password"))
	h.setStateLocked(s, st)
	if !st.SignedIn() {
		c.Redirect(http.StatusSeeOther, "/?mode=signup")
		return
	}
	h.redirectHome(c)
}

func (h *Handler) logout(c *gin.Context) {
	s := h.session(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	h.endLocked(c.Request.Context(), s)
	h.sessions.Remove(s.ID)
	c.SetCookie(CookieName, "", -1, "/", "", c.Request.TLS != nil, true)
	h.redirectHome(c)
}

// withDashboard runs fn with the session's orchestrator, or redirects home when
// the session is not signed in.
func (h *Handler) withDashboard(c *gin.Context, fn func(s *Session)) {
	s := h.session(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.SignedIn() || s.dash == nil {
		h.redirectHome(c)
		return
	}
	fn(s)
}

func (h *Handler) createRestaurant(c *gin.Context) {
	h.withDashboard(c, func(s *Session) {
		_, _ = s.dash.CreateRestaurant(c.Request.Context(), c.PostForm("name"))
		h.redirectHome(c)
	})
}

func (h *Handler) createMenuItem(c *gin.Context) {
	h.withDashboard(c, func(s *Session) {
		_, _ = s.dash.CreateMenuItem(c.Request.Context(), c.Param("id"), dashboard.MenuItemInput{
			Name:        c.PostForm("name"),
			Description: c.PostForm("description"),
			PriceText:   c.PostForm("price"),
		})
		h.redirectHome(c)
	})
}

func (h *Handler) confirmPage(c *gin.Context, s *Session, prompt string) {
	p := h.page(s.state)
	p.Prompt = prompt
	p.Action = c.Request.URL.Path
	c.HTML(http.StatusOK, "confirm.html", p)
}

// confirmed answers the confirmation prompt from the submitted form.
func confirmed(c *gin.Context) dashboard.Confirm {
	yes := c.PostForm("confirm") == "yes"
	return func(string) bool { return yes }
}

func (h *Handler) confirmDeleteRestaurant(c *gin.Context) {
	h.withDashboard(c, func(s *Session) {
		h.confirmPage(c, s, dashboard.PromptDeleteRestaurant)
	})
}

func (h *Handler) deleteRestaurant(c *gin.Context) {
	h.withDashboard(c, func(s *Session) {
		_, _ = s.dash.DeleteRestaurant(c.Request.Context(), c.Param("id"), confirmed(c))
		h.redirectHome(c)
	})
}

func (h *Handler) confirmDeleteMenuItem(c *gin.Context) {
	h.withDashboard(c, func(s *Session) {
		h.confirmPage(c, s, dashboard.PromptDeleteMenuItem)
	})
}

func (h *Handler) deleteMenuItem(c *gin.Context) {
	h.withDashboard(c, func(s *Session) {
		_, _ = s.dash.DeleteMenuItem(c.Request.Context(), c.Param("item"), c.Param("id"), confirmed(c))
		h.redirectHome(c)
	})
}
